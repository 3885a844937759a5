package wifitypes

import (
	"fmt"
	"net"
)

// An EventType identifies an asynchronous notification.
type EventType int

// Possible EventType values.
const (
	EventWiphyRenamed EventType = iota + 1
	EventWiphyRemoved
	EventInterfaceAdded
	EventInterfaceChanged
	EventInterfaceRemoved
	EventStateChanged
	EventScanResults
)

// String returns the string representation of an EventType.
func (t EventType) String() string {
	switch t {
	case EventWiphyRenamed:
		return "wiphy renamed"
	case EventWiphyRemoved:
		return "wiphy removed"
	case EventInterfaceAdded:
		return "interface added"
	case EventInterfaceChanged:
		return "interface changed"
	case EventInterfaceRemoved:
		return "interface removed"
	case EventStateChanged:
		return "state changed"
	case EventScanResults:
		return "scan results"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// An Event is a notification delivered to subscribers of a multicast group.
// Fields not relevant to Type are left zero.
type Event struct {
	Type  EventType
	Group string

	Wiphy     int
	Name      string
	Interface int
	IfType    InterfaceType

	State  State
	Reason uint16

	// Previous is the state left by a StateChanged transition. It is not
	// carried on the wire.
	Previous State

	// Status is the kind of a failed transition, or zero on success.
	Status ErrorKind

	// Deauthenticated is set when the radio reported the deauthentication.
	Deauthenticated bool

	BSSID net.HardwareAddr
	AID   uint16
	BSS   []*BSS
}

// Err returns the failure carried by a StateChanged event, or nil when the
// transition succeeded.
func (e *Event) Err() error {
	if e.Status == 0 {
		return nil
	}

	return &Error{Kind: e.Status, Reason: e.Reason}
}
