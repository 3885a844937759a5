// Package wifictl provides access to a wireless control plane served on a
// local control socket, using the nl80211 generic netlink protocol.
package wifictl

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/mdlayher/wifictl/wifitypes"
)

// DefaultSocketPath is the control socket path used by wifid unless
// configured otherwise.
const DefaultSocketPath = "/run/wifid.sock"

// errUnimplemented is returned by all functions on platforms that cannot
// reach a control socket.
var errUnimplemented = fmt.Errorf("wifictl: not implemented on %s/%s",
	runtime.GOOS, runtime.GOARCH)

// A Client is a type which can configure WiFi devices through a control
// socket.
//
// Errors reported by the control plane are returned as *wifitypes.Error, and
// can be inspected with errors.As or wifitypes.KindOf.
type Client struct {
	c *client
}

// New creates a new Client connected to the control socket at path. An
// empty path selects DefaultSocketPath.
func New(path string) (*Client, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	c, err := newClient(path)
	if err != nil {
		return nil, err
	}

	return &Client{
		c: c,
	}, nil
}

// Close releases resources used by a Client.
func (c *Client) Close() error {
	return c.c.Close()
}

// Wiphys returns the physical devices of the control plane.
func (c *Client) Wiphys() ([]*wifitypes.Wiphy, error) {
	return c.c.Wiphys()
}

// RenameWiphy changes the name of a physical device.
func (c *Client) RenameWiphy(wiphy int, name string) error {
	return c.c.RenameWiphy(wiphy, name)
}

// Commands returns the commands supported by the physical device hosting
// ifi.
func (c *Client) Commands(ifi *wifitypes.Interface) (wifitypes.CommandSet, error) {
	return c.c.Commands(ifi)
}

// Interfaces returns every WiFi network interface.
func (c *Client) Interfaces() ([]*wifitypes.Interface, error) {
	return c.c.Interfaces()
}

// CreateInterface creates a virtual interface named name on a physical
// device.
func (c *Client) CreateInterface(wiphy int, name string, typ wifitypes.InterfaceType) (*wifitypes.Interface, error) {
	return c.c.CreateInterface(wiphy, name, typ)
}

// DeleteInterface removes a virtual interface.
func (c *Client) DeleteInterface(ifi *wifitypes.Interface) error {
	return c.c.DeleteInterface(ifi)
}

// SetInterfaceType changes the operating mode of an interface.
func (c *Client) SetInterfaceType(ifi *wifitypes.Interface, typ wifitypes.InterfaceType) error {
	return c.c.SetInterfaceType(ifi, typ)
}

// Scan scans for networks using ifi and returns the networks found. A zero
// ScanRequest passively scans every channel.
//
// Use context.WithDeadline to bound the wait on the client side; the control
// plane applies its own scan timeout as well. When ctx is done first, the scan
// is aborted and ifi is idle again once Scan returns.
func (c *Client) Scan(ctx context.Context, ifi *wifitypes.Interface, req wifitypes.ScanRequest) ([]*wifitypes.BSS, error) {
	return c.c.Scan(ctx, ifi, req)
}

// AbortScan cancels the outstanding scan of ifi, if any.
func (c *Client) AbortScan(ifi *wifitypes.Interface) error {
	return c.c.AbortScan(ifi)
}

// Associate authenticates and associates ifi with a network, and returns the
// resulting association.
func (c *Client) Associate(ctx context.Context, ifi *wifitypes.Interface, p wifitypes.AssociateParams) (*wifitypes.Association, error) {
	return c.c.Associate(ctx, ifi, p)
}

// ConnectWPAPSK associates ifi with ssid and installs the pairwise key
// derived from the passphrase psk.
func (c *Client) ConnectWPAPSK(ctx context.Context, ifi *wifitypes.Interface, ssid, psk string) (*wifitypes.Association, error) {
	return c.c.ConnectWPAPSK(ctx, ifi, ssid, psk)
}

// Disassociate leaves the network ifi is associated with, keeping its
// authentication.
func (c *Client) Disassociate(ifi *wifitypes.Interface, reason uint16) error {
	return c.c.Disassociate(ifi, reason)
}

// Deauthenticate tears down the authentication and association of ifi.
func (c *Client) Deauthenticate(ifi *wifitypes.Interface, reason uint16) error {
	return c.c.Deauthenticate(ifi, reason)
}

// Association returns the current association context of ifi.
func (c *Client) Association(ifi *wifitypes.Interface) (*wifitypes.Association, error) {
	return c.c.Association(ifi)
}

// AuthenticatedPeers returns the peers ifi is authenticated with: its
// network when it is a station, or its stations when it is an access point.
func (c *Client) AuthenticatedPeers(ifi *wifitypes.Interface) ([]*wifitypes.BSS, error) {
	return c.c.AuthenticatedPeers(ifi)
}

// AddKey installs an encryption key on ifi.
func (c *Client) AddKey(ifi *wifitypes.Interface, k wifitypes.Key) error {
	return c.c.AddKey(ifi, k)
}

// DeleteKey removes the key of ifi with the identity of k.
func (c *Client) DeleteKey(ifi *wifitypes.Interface, k wifitypes.Key) error {
	return c.c.DeleteKey(ifi, k)
}

// DeleteKeys removes every key of ifi.
func (c *Client) DeleteKeys(ifi *wifitypes.Interface) error {
	return c.c.DeleteKeys(ifi)
}

// SetBeacon sets the beacon template of an access point interface.
func (c *Client) SetBeacon(ifi *wifitypes.Interface, b wifitypes.Beacon) error {
	return c.c.SetBeacon(ifi, b)
}

// AddStation adds a station to the table of an access point interface.
func (c *Client) AddStation(ifi *wifitypes.Interface, s wifitypes.Station) error {
	return c.c.AddStation(ifi, s)
}

// UpdateStation changes a station in the table of an access point interface.
func (c *Client) UpdateStation(ifi *wifitypes.Interface, s wifitypes.Station) error {
	return c.c.UpdateStation(ifi, s)
}

// Stations returns the station table of an access point interface.
func (c *Client) Stations(ifi *wifitypes.Interface) ([]*wifitypes.Station, error) {
	return c.c.Stations(ifi)
}

// Watch joins the named multicast groups on a separate connection and calls
// fn for each notification received, until ctx is canceled or fn returns an
// error. With no groups, every group is joined.
//
// Watch returns nil when ctx is canceled.
func (c *Client) Watch(ctx context.Context, fn func(ev *wifitypes.Event) error, groups ...string) error {
	return c.c.Watch(ctx, fn, groups...)
}

// SetDeadline sets the read and write deadlines associated with the connection.
func (c *Client) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// SetReadDeadline sets the read deadline associated with the connection.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline associated with the connection.
func (c *Client) SetWriteDeadline(t time.Time) error {
	return c.c.SetWriteDeadline(t)
}
