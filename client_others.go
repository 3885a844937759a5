//go:build !linux
// +build !linux

package wifictl

import (
	"context"
	"time"

	"github.com/mdlayher/wifictl/wifitypes"
)

// A client is the no-op implementation of a control socket client.
type client struct{}

func newClient(_ string) (*client, error) { return nil, errUnimplemented }

func (*client) Close() error                                { return errUnimplemented }
func (*client) Wiphys() ([]*wifitypes.Wiphy, error)         { return nil, errUnimplemented }
func (*client) RenameWiphy(_ int, _ string) error           { return errUnimplemented }
func (*client) Interfaces() ([]*wifitypes.Interface, error) { return nil, errUnimplemented }

func (*client) Commands(_ *wifitypes.Interface) (wifitypes.CommandSet, error) {
	return 0, errUnimplemented
}

func (*client) CreateInterface(_ int, _ string, _ wifitypes.InterfaceType) (*wifitypes.Interface, error) {
	return nil, errUnimplemented
}

func (*client) DeleteInterface(_ *wifitypes.Interface) error { return errUnimplemented }

func (*client) SetInterfaceType(_ *wifitypes.Interface, _ wifitypes.InterfaceType) error {
	return errUnimplemented
}

func (*client) Scan(_ context.Context, _ *wifitypes.Interface, _ wifitypes.ScanRequest) ([]*wifitypes.BSS, error) {
	return nil, errUnimplemented
}

func (*client) AbortScan(_ *wifitypes.Interface) error { return errUnimplemented }

func (*client) Associate(_ context.Context, _ *wifitypes.Interface, _ wifitypes.AssociateParams) (*wifitypes.Association, error) {
	return nil, errUnimplemented
}

func (*client) ConnectWPAPSK(_ context.Context, _ *wifitypes.Interface, _, _ string) (*wifitypes.Association, error) {
	return nil, errUnimplemented
}

func (*client) Disassociate(_ *wifitypes.Interface, _ uint16) error   { return errUnimplemented }
func (*client) Deauthenticate(_ *wifitypes.Interface, _ uint16) error { return errUnimplemented }

func (*client) Association(_ *wifitypes.Interface) (*wifitypes.Association, error) {
	return nil, errUnimplemented
}

func (*client) AuthenticatedPeers(_ *wifitypes.Interface) ([]*wifitypes.BSS, error) {
	return nil, errUnimplemented
}

func (*client) AddKey(_ *wifitypes.Interface, _ wifitypes.Key) error            { return errUnimplemented }
func (*client) DeleteKey(_ *wifitypes.Interface, _ wifitypes.Key) error         { return errUnimplemented }
func (*client) DeleteKeys(_ *wifitypes.Interface) error                         { return errUnimplemented }
func (*client) SetBeacon(_ *wifitypes.Interface, _ wifitypes.Beacon) error      { return errUnimplemented }
func (*client) AddStation(_ *wifitypes.Interface, _ wifitypes.Station) error    { return errUnimplemented }
func (*client) UpdateStation(_ *wifitypes.Interface, _ wifitypes.Station) error { return errUnimplemented }

func (*client) Stations(_ *wifitypes.Interface) ([]*wifitypes.Station, error) {
	return nil, errUnimplemented
}

func (*client) Watch(_ context.Context, _ func(ev *wifitypes.Event) error, _ ...string) error {
	return errUnimplemented
}

func (*client) SetDeadline(_ time.Time) error      { return errUnimplemented }
func (*client) SetReadDeadline(_ time.Time) error  { return errUnimplemented }
func (*client) SetWriteDeadline(_ time.Time) error { return errUnimplemented }
