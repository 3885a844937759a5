// Package nlattr implements the tag-length-value attribute codec carried in
// every control message.
//
// Encoding is done with a netlink.AttributeEncoder. Decoding produces an
// ordered slice of raw Attributes which can be reinterpreted by type-specific
// accessors. Nested lists recurse through the same Decoder with a depth cap
// so that untrusted input cannot force unbounded recursion.
package nlattr

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// Errors returned while decoding attributes.
var (
	ErrMalformed      = errors.New("malformed attribute")
	ErrNestingTooDeep = errors.New("attribute nesting too deep")
	ErrUnknown        = errors.New("unknown attribute")
)

// DefaultMaxDepth is the nesting cap used when a Decoder does not set one.
// A top-level attribute list is depth 1.
const DefaultMaxDepth = 4

// An UnknownError reports an attribute type rejected by a strict Decoder.
type UnknownError struct {
	Type uint16
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("%v: type %d", ErrUnknown, e.Type)
}

// Is allows matching ErrUnknown with errors.Is.
func (e *UnknownError) Is(target error) bool { return target == ErrUnknown }

// A Decoder decodes attribute streams.
type Decoder struct {
	// Strict rejects attribute types of zero or greater than MaxType with an
	// *UnknownError. Otherwise they are preserved as opaque bytes.
	Strict bool

	// MaxType is the highest attribute type known to the caller.
	MaxType uint16

	// MaxDepth bounds nesting; zero means DefaultMaxDepth.
	MaxDepth int
}

// Decode decodes the top-level attribute list in b.
func (d *Decoder) Decode(b []byte) ([]Attribute, error) {
	return d.decode(b, 1, true)
}

func (d *Decoder) maxDepth() int {
	if d.MaxDepth <= 0 {
		return DefaultMaxDepth
	}

	return d.MaxDepth
}

// decode walks one attribute list. Array elements are indexed by type, so
// checkTypes is false when decoding an array.
func (d *Decoder) decode(b []byte, depth int, checkTypes bool) ([]Attribute, error) {
	if depth > d.maxDepth() {
		return nil, ErrNestingTooDeep
	}

	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var attrs []Attribute
	for ad.Next() {
		typ := ad.Type()
		if checkTypes && d.Strict && (typ == 0 || typ > d.MaxType) {
			return nil, &UnknownError{Type: typ}
		}

		attrs = append(attrs, Attribute{
			Type:  typ,
			Data:  ad.Bytes(),
			d:     d,
			depth: depth,
		})
	}

	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return attrs, nil
}

// An Attribute is one decoded attribute: its type and raw payload.
type Attribute struct {
	Type uint16
	Data []byte

	d     *Decoder
	depth int
}

// New creates an Attribute which decodes nested payloads with d at the top
// level depth. It is mostly useful in tests.
func New(d *Decoder, typ uint16, b []byte) Attribute {
	return Attribute{Type: typ, Data: b, d: d, depth: 1}
}

func (a Attribute) malformed(want string) error {
	return fmt.Errorf("%w: type %d: want %s, got %d bytes", ErrMalformed, a.Type, want, len(a.Data))
}

func (a Attribute) fixed(n int) error {
	if len(a.Data) != n {
		return a.malformed(fmt.Sprintf("%d bytes", n))
	}

	return nil
}

// Uint8 interprets the payload as a uint8.
func (a Attribute) Uint8() (uint8, error) {
	if err := a.fixed(1); err != nil {
		return 0, err
	}

	return nlenc.Uint8(a.Data), nil
}

// Uint16 interprets the payload as a uint16.
func (a Attribute) Uint16() (uint16, error) {
	if err := a.fixed(2); err != nil {
		return 0, err
	}

	return nlenc.Uint16(a.Data), nil
}

// Uint32 interprets the payload as a uint32.
func (a Attribute) Uint32() (uint32, error) {
	if err := a.fixed(4); err != nil {
		return 0, err
	}

	return nlenc.Uint32(a.Data), nil
}

// Uint64 interprets the payload as a uint64.
func (a Attribute) Uint64() (uint64, error) {
	if err := a.fixed(8); err != nil {
		return 0, err
	}

	return nlenc.Uint64(a.Data), nil
}

// Flag reports whether a flag attribute is well formed. Flags carry no
// payload; their presence is the value.
func (a Attribute) Flag() error { return a.fixed(0) }

// String interprets the payload as a string, trimming a NUL terminator.
func (a Attribute) String() string { return nlenc.String(a.Data) }

// Bytes returns the payload after checking that its length is within
// [min, max]. A max of zero means unbounded.
func (a Attribute) Bytes(min, max int) ([]byte, error) {
	if len(a.Data) < min || (max > 0 && len(a.Data) > max) {
		return nil, a.malformed(fmt.Sprintf("%d..%d bytes", min, max))
	}

	return a.Data, nil
}

// Nested decodes the payload as a nested attribute list one level deeper.
func (a Attribute) Nested() ([]Attribute, error) {
	return a.decoder().decode(a.Data, a.depth+1, true)
}

// Array decodes the payload as a netlink array: a list whose element types
// are indexes. Each element may itself be decoded with its accessors.
func (a Attribute) Array() ([]Attribute, error) {
	return a.decoder().decode(a.Data, a.depth+1, false)
}

func (a Attribute) decoder() *Decoder {
	if a.d == nil {
		return &Decoder{}
	}

	return a.d
}

// Find returns the first attribute of type typ.
func Find(attrs []Attribute, typ uint16) (Attribute, bool) {
	for _, a := range attrs {
		if a.Type == typ {
			return a, true
		}
	}

	return Attribute{}, false
}

// Encode runs fn against a fresh encoder and returns the encoded attributes.
func Encode(fn func(ae *netlink.AttributeEncoder) error) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	if err := fn(ae); err != nil {
		return nil, err
	}

	return ae.Encode()
}

// Array encodes n elements as a netlink array attribute of type typ. Element
// i is written with fn and carries the 1-based index i+1 as its type.
func Array(ae *netlink.AttributeEncoder, typ uint16, n int, fn func(ae *netlink.AttributeEncoder, i int) error) {
	ae.Nested(typ, func(nae *netlink.AttributeEncoder) error {
		for i := 0; i < n; i++ {
			i := i
			nae.Nested(uint16(i+1), func(eae *netlink.AttributeEncoder) error {
				return fn(eae, i)
			})
		}
		return nil
	})
}

// Uint8Array encodes vs as a netlink array of u8 elements.
func Uint8Array(ae *netlink.AttributeEncoder, typ uint16, vs []uint8) {
	ae.Nested(typ, func(nae *netlink.AttributeEncoder) error {
		for i, v := range vs {
			nae.Uint8(uint16(i+1), v)
		}
		return nil
	})
}
