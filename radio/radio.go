// Package radio defines the capability interface a radio driver implements
// to sit behind the wireless control plane.
//
// The control plane never touches hardware itself: it sequences control
// messages and delegates every physical operation to a Provider.
package radio

import (
	"context"

	"github.com/mdlayher/wifictl/wifitypes"
)

// A Provider implements physical radio operations.
//
// Every method must honor ctx: the control plane always passes a context
// with a deadline.
type Provider interface {
	// Wiphys enumerates the radios present at startup.
	Wiphys(ctx context.Context) ([]wifitypes.Wiphy, error)

	// CreateInterface creates a virtual interface on a wiphy. The provider
	// assigns the interface index and hardware address.
	CreateInterface(ctx context.Context, wiphy int, typ wifitypes.InterfaceType, name string) (*wifitypes.Interface, error)

	// DestroyInterface removes a virtual interface.
	DestroyInterface(ctx context.Context, ifindex int) error

	// SetInterfaceType changes the operating mode of an interface.
	SetInterfaceType(ctx context.Context, ifindex int, typ wifitypes.InterfaceType) error

	// StartScan begins a scan and returns without waiting for it. The
	// provider reports each BSS through h.Found and finishes with exactly one
	// call to h.Done, from any goroutine. Calls made after the control plane
	// gave up on the scan are ignored.
	StartScan(ctx context.Context, ifindex int, req wifitypes.ScanRequest, h ScanHandler) error

	// Associate authenticates and associates, blocking until the access
	// point answers or ctx expires. A failure carrying an 802.11 reason code
	// is reported as an *AssociateError.
	Associate(ctx context.Context, ifindex int, p wifitypes.AssociateParams) (*wifitypes.AssociateResult, error)

	// Deauthenticate tears down an authentication or association.
	Deauthenticate(ctx context.Context, ifindex int, reason uint16) error

	// InstallKey installs an encryption key.
	InstallKey(ctx context.Context, ifindex int, k wifitypes.Key) error

	// RemoveKey removes the key identified by k's ID, Type and MAC.
	RemoveKey(ctx context.Context, ifindex int, k wifitypes.Key) error

	// Events returns a channel of unsolicited events. The provider closes it
	// when it shuts down.
	Events() <-chan Event
}

// A ScanHandler receives asynchronous scan results.
type ScanHandler interface {
	Found(bss wifitypes.BSS)
	Done(err error)
}

// An AssociateError is an association attempt refused with an 802.11 reason
// or status code.
type AssociateError struct {
	// Auth is set when authentication, rather than association, failed.
	Auth   bool
	Reason uint16
}

func (e *AssociateError) Error() string {
	if e.Auth {
		return "radio: authentication refused"
	}

	return "radio: association refused"
}

// An EventType identifies an unsolicited radio event.
type EventType int

// Possible EventType values.
const (
	// EventDeauthenticated reports that the peer deauthenticated an
	// interface.
	EventDeauthenticated EventType = iota + 1

	// EventWiphyAdded reports a newly registered wiphy.
	EventWiphyAdded

	// EventWiphyRemoved reports a deregistered wiphy.
	EventWiphyRemoved
)

// An Event is an unsolicited event raised by the radio.
type Event struct {
	Type EventType

	Interface int
	Reason    uint16

	Wiphy wifitypes.Wiphy
}
