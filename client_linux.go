//go:build linux
// +build linux

package wifictl

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/ctlsock"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/wifitypes"
	"golang.org/x/crypto/pbkdf2"
)

// Errors which indicate that the control socket answered outside of the
// protocol.
var (
	errInvalidCommand       = errors.New("invalid nl80211 command in reply")
	errInvalidFamilyVersion = errors.New("invalid nl80211 family version in reply")
	errNoReply              = errors.New("no reply from control socket")
)

// A client is the Linux implementation of a control socket client, which
// makes use of generic netlink and nl80211 over a Unix socket.
type client struct {
	c             *genetlink.Conn
	familyID      uint16
	familyVersion uint8
	groups        map[string]uint32
	dec           *nlattr.Decoder

	// dial opens a secondary connection for long running requests and
	// multicast receives.
	dial func() (*genetlink.Conn, error)
}

// newClient dials the control socket at path and verifies that nl80211 is
// served on it.
func newClient(path string) (*client, error) {
	dial := func() (*genetlink.Conn, error) {
		sock, err := ctlsock.Dial(path)
		if err != nil {
			return nil, err
		}

		return genetlink.NewConn(netlink.NewConn(sock, 0)), nil
	}

	c, err := dial()
	if err != nil {
		return nil, err
	}

	return initClient(c, dial)
}

func initClient(c *genetlink.Conn, dial func() (*genetlink.Conn, error)) (*client, error) {
	family, err := c.GetFamily(nl80211.GenlName)
	if err != nil {
		// Ensure the connection is closed on error to avoid leaking file
		// descriptors.
		_ = c.Close()
		return nil, err
	}

	groups := make(map[string]uint32, len(family.Groups))
	for _, g := range family.Groups {
		groups[g.Name] = g.ID
	}

	return &client{
		c:             c,
		familyID:      family.ID,
		familyVersion: family.Version,
		groups:        groups,
		dec:           &nlattr.Decoder{MaxType: nl80211.AttrMax},
		dial:          dial,
	}, nil
}

// Close closes the client's connection.
func (c *client) Close() error { return c.c.Close() }

// Wiphys requests a dump of every wiphy.
func (c *client) Wiphys() ([]*wifitypes.Wiphy, error) {
	msgs, err := c.get(nl80211.CmdGetWiphys, netlink.Dump, nil, nil)
	if err != nil {
		return nil, err
	}

	attrs, err := c.parse(msgs, nl80211.CmdNewWiphys)
	if err != nil {
		return nil, err
	}

	ws := make([]*wifitypes.Wiphy, 0, len(attrs))
	for _, as := range attrs {
		w, err := wire.ParseWiphy(as)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}

	return ws, nil
}

// RenameWiphy renames a wiphy.
func (c *client) RenameWiphy(wiphy int, name string) error {
	_, err := c.get(nl80211.CmdRenameWiphy, netlink.Acknowledge, nil, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(nl80211.AttrWiphy, uint32(wiphy))
		ae.String(nl80211.AttrWiphyName, name)
	})
	return err
}

// Commands requests the command list of the wiphy hosting ifi.
func (c *client) Commands(ifi *wifitypes.Interface) (wifitypes.CommandSet, error) {
	msgs, err := c.get(nl80211.CmdGetCmdList, 0, ifi, nil)
	if err != nil {
		return 0, err
	}

	attrs, err := c.parseOne(msgs, nl80211.CmdNewCmdList)
	if err != nil {
		return 0, err
	}

	w, err := wire.ParseWiphy(attrs)
	if err != nil {
		return 0, err
	}

	return w.Commands, nil
}

// Interfaces requests a dump of every interface.
func (c *client) Interfaces() ([]*wifitypes.Interface, error) {
	msgs, err := c.get(nl80211.CmdGetInterfaces, netlink.Dump, nil, nil)
	if err != nil {
		return nil, err
	}

	return c.parseInterfaces(msgs)
}

// CreateInterface requests a new virtual interface.
func (c *client) CreateInterface(wiphy int, name string, typ wifitypes.InterfaceType) (*wifitypes.Interface, error) {
	msgs, err := c.get(nl80211.CmdAddVirtualInterface, 0, nil, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(nl80211.AttrWiphy, uint32(wiphy))
		ae.String(nl80211.AttrIfname, name)
		if typ != wifitypes.InterfaceTypeUnspecified {
			ae.Uint32(nl80211.AttrIftype, uint32(typ))
		}
	})
	if err != nil {
		return nil, err
	}

	ifis, err := c.parseInterfaces(msgs)
	if err != nil {
		return nil, err
	}
	if len(ifis) != 1 {
		return nil, errNoReply
	}

	return ifis[0], nil
}

// DeleteInterface removes ifi.
func (c *client) DeleteInterface(ifi *wifitypes.Interface) error {
	_, err := c.get(nl80211.CmdDelVirtualInterface, netlink.Acknowledge, ifi, nil)
	return err
}

// SetInterfaceType changes the operating mode of ifi.
func (c *client) SetInterfaceType(ifi *wifitypes.Interface, typ wifitypes.InterfaceType) error {
	_, err := c.get(nl80211.CmdChangeVirtualInterface, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(nl80211.AttrIftype, uint32(typ))
	})
	return err
}

// Scan requests a scan and waits for its results on a secondary connection,
// so a canceled scan does not disturb the primary one.
func (c *client) Scan(ctx context.Context, ifi *wifitypes.Interface, req wifitypes.ScanRequest) ([]*wifitypes.BSS, error) {
	var bss []*wifitypes.BSS
	err := c.blocking(ctx, func(conn *genetlink.Conn) error {
		msgs, err := c.execute(conn, nl80211.CmdInitiateScan, 0, ifi, func(ae *netlink.AttributeEncoder) {
			if len(req.Channels) > 0 {
				wire.EncodeChannelList(ae, req.Channels)
			}
			ae.Flag(nl80211.AttrFlagScanActive, req.Active)
		})
		if err != nil {
			return err
		}

		attrs, err := c.parseOne(msgs, nl80211.CmdScanResult)
		if err != nil {
			return err
		}

		a, ok := nlattr.Find(attrs, nl80211.AttrBSSList)
		if !ok {
			return nil
		}

		bss, err = wire.ParseBSSList(a)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			// The server aborts the scan once the secondary connection is
			// gone; aborting explicitly leaves ifi idle before returning.
			_ = c.AbortScan(ifi)
		}
		return nil, err
	}

	return bss, nil
}

// AbortScan cancels the outstanding scan of ifi.
func (c *client) AbortScan(ifi *wifitypes.Interface) error {
	_, err := c.get(nl80211.CmdAbortScan, netlink.Acknowledge, ifi, nil)
	return err
}

// Associate requests an association and waits for its outcome on a
// secondary connection.
func (c *client) Associate(ctx context.Context, ifi *wifitypes.Interface, p wifitypes.AssociateParams) (*wifitypes.Association, error) {
	var as *wifitypes.Association
	err := c.blocking(ctx, func(conn *genetlink.Conn) error {
		msgs, err := c.execute(conn, nl80211.CmdAssociate, 0, ifi, func(ae *netlink.AttributeEncoder) {
			wire.EncodeAssociateParams(ae, &p)
		})
		if err != nil {
			return err
		}

		as, err = c.parseAssociation(msgs)
		return err
	})
	if err != nil {
		return nil, err
	}

	return as, nil
}

// ConnectWPAPSK associates with ssid and installs the pairwise master key
// derived from psk for the network joined.
func (c *client) ConnectWPAPSK(ctx context.Context, ifi *wifitypes.Interface, ssid, psk string) (*wifitypes.Association, error) {
	as, err := c.Associate(ctx, ifi, wifitypes.AssociateParams{SSID: ssid})
	if err != nil {
		return nil, err
	}

	k := wifitypes.Key{
		Type:   wifitypes.KeyTypePairwise,
		Cipher: wifitypes.CipherCCMP,
		Data:   wpaPassphrase([]byte(ssid), []byte(psk)),
	}
	if as.BSS != nil {
		k.MAC = as.BSS.BSSID
	}

	if err := c.AddKey(ifi, k); err != nil {
		return nil, fmt.Errorf("failed to install pairwise key: %w", err)
	}

	return as, nil
}

// wpaPassphrase computes a WPA passphrase given an SSID and preshared key.
func wpaPassphrase(ssid, psk []byte) []byte {
	return pbkdf2.Key(psk, ssid, 4096, 32, sha1.New)
}

// Disassociate requests a disassociation.
func (c *client) Disassociate(ifi *wifitypes.Interface, reason uint16) error {
	return c.leave(nl80211.CmdDisassociate, ifi, reason)
}

// Deauthenticate requests a deauthentication.
func (c *client) Deauthenticate(ifi *wifitypes.Interface, reason uint16) error {
	return c.leave(nl80211.CmdDeauth, ifi, reason)
}

func (c *client) leave(cmd nl80211.Command, ifi *wifitypes.Interface, reason uint16) error {
	_, err := c.get(cmd, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		if reason != 0 {
			ae.Uint16(nl80211.AttrReasonCode, reason)
		}
	})
	return err
}

// Association requests the association context of ifi.
func (c *client) Association(ifi *wifitypes.Interface) (*wifitypes.Association, error) {
	msgs, err := c.get(nl80211.CmdGetAssociation, 0, ifi, nil)
	if err != nil {
		return nil, err
	}

	return c.parseAssociation(msgs)
}

// AuthenticatedPeers requests the authentication list of ifi.
func (c *client) AuthenticatedPeers(ifi *wifitypes.Interface) ([]*wifitypes.BSS, error) {
	msgs, err := c.get(nl80211.CmdGetAuthList, 0, ifi, nil)
	if err != nil {
		return nil, err
	}

	attrs, err := c.parseOne(msgs, nl80211.CmdNewAuthList)
	if err != nil {
		return nil, err
	}

	a, ok := nlattr.Find(attrs, nl80211.AttrBSSList)
	if !ok {
		return nil, nil
	}

	return wire.ParseBSSList(a)
}

// AddKey installs k on ifi.
func (c *client) AddKey(ifi *wifitypes.Interface, k wifitypes.Key) error {
	_, err := c.get(nl80211.CmdAddKey, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		wire.EncodeKey(ae, &k)
	})
	return err
}

// DeleteKey removes the key of ifi matching k.
func (c *client) DeleteKey(ifi *wifitypes.Interface, k wifitypes.Key) error {
	// Only the identity of the key is sent.
	id := wifitypes.Key{ID: k.ID, Type: k.Type, MAC: k.MAC}
	_, err := c.get(nl80211.CmdDelKey, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		wire.EncodeKey(ae, &id)
	})
	return err
}

// DeleteKeys removes every key of ifi.
func (c *client) DeleteKeys(ifi *wifitypes.Interface) error {
	_, err := c.get(nl80211.CmdDelKey, netlink.Acknowledge, ifi, nil)
	return err
}

// SetBeacon sets the beacon template of ifi.
func (c *client) SetBeacon(ifi *wifitypes.Interface, b wifitypes.Beacon) error {
	_, err := c.get(nl80211.CmdAPSetBeacon, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		wire.EncodeBeacon(ae, &b)
	})
	return err
}

// AddStation adds s to the station table of ifi.
func (c *client) AddStation(ifi *wifitypes.Interface, s wifitypes.Station) error {
	_, err := c.get(nl80211.CmdAPAddSta, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		wire.EncodeStation(ae, &s)
	})
	return err
}

// UpdateStation changes s in the station table of ifi.
func (c *client) UpdateStation(ifi *wifitypes.Interface, s wifitypes.Station) error {
	_, err := c.get(nl80211.CmdAPUpdateSta, netlink.Acknowledge, ifi, func(ae *netlink.AttributeEncoder) {
		wire.EncodeStation(ae, &s)
	})
	return err
}

// Stations requests the station table of ifi.
func (c *client) Stations(ifi *wifitypes.Interface) ([]*wifitypes.Station, error) {
	msgs, err := c.get(nl80211.CmdAPGetStaInfo, netlink.Dump, ifi, nil)
	if err != nil {
		return nil, err
	}

	attrs, err := c.parse(msgs, nl80211.CmdAPGetStaInfo)
	if err != nil {
		return nil, err
	}

	stations := make([]*wifitypes.Station, 0, len(attrs))
	for _, as := range attrs {
		s, err := wire.ParseStation(as)
		if err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}

	return stations, nil
}

// Watch receives notifications for groups on a secondary connection.
func (c *client) Watch(ctx context.Context, fn func(ev *wifitypes.Event) error, groups ...string) error {
	if len(groups) == 0 {
		groups = nl80211.GroupNames[:]
	}

	ids := make([]uint32, 0, len(groups))
	for _, g := range groups {
		id, ok := c.groups[g]
		if !ok {
			return fmt.Errorf("wifictl: unknown multicast group %q", g)
		}
		ids = append(ids, id)
	}

	err := c.blocking(ctx, func(conn *genetlink.Conn) error {
		for _, id := range ids {
			if err := conn.JoinGroup(id); err != nil {
				return err
			}
		}

		for {
			msgs, _, err := conn.Receive()
			if err != nil {
				return err
			}

			for _, m := range msgs {
				if m.Header.Version != c.familyVersion {
					continue
				}

				ev, err := wire.ParseEvent(c.dec, m)
				if err != nil {
					return err
				}
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// SetDeadline sets the read and write deadlines associated with the connection.
func (c *client) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// SetReadDeadline sets the read deadline associated with the connection.
func (c *client) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline associated with the connection.
func (c *client) SetWriteDeadline(t time.Time) error {
	return c.c.SetWriteDeadline(t)
}

// blocking runs fn with a secondary connection which is closed when ctx is
// done, interrupting fn. An interrupted fn reports ctx.Err().
func (c *client) blocking(ctx context.Context, fn func(conn *genetlink.Conn) error) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	err = fn(conn)
	close(done)
	<-stopped

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}

	return err
}

// get performs a request/response interaction on the primary connection.
func (c *client) get(
	cmd nl80211.Command,
	flags netlink.HeaderFlags,
	ifi *wifitypes.Interface,
	// May be nil; used to apply optional parameters.
	params func(ae *netlink.AttributeEncoder),
) ([]genetlink.Message, error) {
	return c.execute(c.c, cmd, flags, ifi, params)
}

// execute executes cmd on conn with additional header flags. The
// netlink.Request header flag is automatically set, and errors from the
// control plane are converted to *wifitypes.Error.
func (c *client) execute(
	conn *genetlink.Conn,
	cmd nl80211.Command,
	flags netlink.HeaderFlags,
	ifi *wifitypes.Interface,
	params func(ae *netlink.AttributeEncoder),
) ([]genetlink.Message, error) {
	b, err := nlattr.Encode(func(ae *netlink.AttributeEncoder) error {
		if ifi != nil {
			wire.EncodeIfindex(ae, ifi.Index)
		}
		if params != nil {
			params(ae)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgs, err := conn.Execute(
		genetlink.Message{
			Header: genetlink.Header{
				Command: uint8(cmd),
				Version: c.familyVersion,
			},
			Data: b,
		},
		// Always pass the genetlink family ID and request flag.
		c.familyID,
		netlink.Request|flags,
	)
	if err != nil {
		return nil, ctlsock.FromError(err)
	}

	return msgs, nil
}

// parse decodes the attributes of every message, which must carry command
// cmd. A failure reply is returned as its error.
func (c *client) parse(msgs []genetlink.Message, cmd nl80211.Command) ([][]nlattr.Attribute, error) {
	out := make([][]nlattr.Attribute, 0, len(msgs))
	for _, m := range msgs {
		if m.Header.Version != c.familyVersion {
			return nil, errInvalidFamilyVersion
		}

		attrs, err := c.dec.Decode(m.Data)
		if err != nil {
			return nil, wire.AttrError(0, err)
		}

		if _, ok := nlattr.Find(attrs, nl80211.AttrStatus); ok {
			ev, err := wire.ParseEvent(c.dec, m)
			if err != nil {
				return nil, err
			}
			if err := ev.Err(); err != nil {
				return nil, err
			}
		}

		if m.Header.Command != uint8(cmd) {
			return nil, errInvalidCommand
		}

		out = append(out, attrs)
	}

	return out, nil
}

// parseOne is like parse, but expects exactly one message.
func (c *client) parseOne(msgs []genetlink.Message, cmd nl80211.Command) ([]nlattr.Attribute, error) {
	attrs, err := c.parse(msgs, cmd)
	if err != nil {
		return nil, err
	}
	if len(attrs) != 1 {
		return nil, errNoReply
	}

	return attrs[0], nil
}

func (c *client) parseInterfaces(msgs []genetlink.Message) ([]*wifitypes.Interface, error) {
	attrs, err := c.parse(msgs, nl80211.CmdNewInterfaces)
	if err != nil {
		return nil, err
	}

	ifis := make([]*wifitypes.Interface, 0, len(attrs))
	for _, as := range attrs {
		ifi, err := wire.ParseInterface(as)
		if err != nil {
			return nil, err
		}
		ifis = append(ifis, ifi)
	}

	return ifis, nil
}

func (c *client) parseAssociation(msgs []genetlink.Message) (*wifitypes.Association, error) {
	attrs, err := c.parseOne(msgs, nl80211.CmdAssociationChanged)
	if err != nil {
		return nil, err
	}

	return wire.ParseAssociation(attrs)
}
