// Package mangle names the packet-mutation variants a deployment may select.
//
// The variant is carried through configuration and reported at startup. The
// mutation itself is performed by an external collaborator.
package mangle

import (
	"fmt"
	"strings"
)

// A Variant selects how outgoing frames are mutated.
type Variant int

// Possible Variant values.
const (
	Normal Variant = iota
	Tarpit
	Delude
)

var names = [...]string{
	Normal: "normal",
	Tarpit: "tarpit",
	Delude: "delude",
}

// String returns the string representation of a Variant.
func (v Variant) String() string {
	if v >= 0 && int(v) < len(names) {
		return names[v]
	}

	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant parses a Variant name, ignoring case. An empty name is Normal.
func ParseVariant(s string) (Variant, error) {
	if s == "" {
		return Normal, nil
	}

	for v, name := range names {
		if strings.EqualFold(s, name) {
			return Variant(v), nil
		}
	}

	return 0, fmt.Errorf("mangle: unknown variant %q", s)
}
