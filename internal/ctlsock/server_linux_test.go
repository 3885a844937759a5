//go:build linux
// +build linux

package ctlsock_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/wifictl/internal/ctlsock"
	"github.com/mdlayher/wifictl/internal/dispatch"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/notify"
	"github.com/mdlayher/wifictl/internal/registry"
	"github.com/mdlayher/wifictl/internal/scan"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/radio/sim"
	"github.com/mdlayher/wifictl/wifitypes"
	"golang.org/x/sys/unix"
)

func TestServerGetFamily(t *testing.T) {
	c := dial(t, serve(t))

	f, err := c.GetFamily(nl80211.GenlName)
	if err != nil {
		t.Fatalf("failed to get family: %v", err)
	}

	want := genetlink.Family{
		ID:      nl80211.FamilyID,
		Version: nl80211.GenlVersion,
		Name:    nl80211.GenlName,
	}
	for g, name := range nl80211.GroupNames {
		want.Groups = append(want.Groups, genetlink.MulticastGroup{
			ID:   nl80211.GroupID(g),
			Name: name,
		})
	}

	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("unexpected family (-want +got):\n%s", diff)
	}

	_, err = c.GetFamily("nl802154")
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("expected ENOENT for unknown family, got: %v", err)
	}
}

func TestServerExecute(t *testing.T) {
	c := dial(t, serve(t))

	msgs, err := c.Execute(request(t, nl80211.CmdGetWiphys, nil), nl80211.FamilyID, netlink.Request|netlink.Dump)
	if err != nil {
		t.Fatalf("failed to dump wiphys: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one wiphy, got %d", len(msgs))
	}

	w, err := wire.ParseWiphy(decode(t, msgs[0]))
	if err != nil {
		t.Fatalf("failed to parse wiphy: %v", err)
	}
	if w.Name != "phy0" {
		t.Fatalf("unexpected wiphy: %+v", w)
	}

	ifi := addInterface(t, c)
	if ifi.Name != "wlan0" || ifi.Type != wifitypes.InterfaceTypeStation {
		t.Fatalf("unexpected interface: %+v", ifi)
	}

	// A request without replies is acknowledged.
	_, err = c.Execute(request(t, nl80211.CmdDisassociate, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, ifi.Index)
	}), nl80211.FamilyID, netlink.Request|netlink.Acknowledge)
	if err != nil {
		t.Fatalf("failed to disassociate: %v", err)
	}
}

func TestServerErrors(t *testing.T) {
	c := dial(t, serve(t))

	tests := []struct {
		name  string
		cmd   nl80211.Command
		fn    func(ae *netlink.AttributeEncoder)
		errno unix.Errno
		kind  wifitypes.ErrorKind
	}{
		{
			name:  "unsupported command",
			cmd:   200,
			errno: unix.EOPNOTSUPP,
			kind:  wifitypes.KindUnsupportedCommand,
		},
		{
			name:  "missing interface",
			cmd:   nl80211.CmdGetInterfaces,
			fn:    func(ae *netlink.AttributeEncoder) { ae.Uint32(nl80211.AttrIfindex, 99) },
			errno: unix.ENODEV,
			kind:  wifitypes.KindInterfaceNotFound,
		},
		{
			name:  "missing wiphy",
			cmd:   nl80211.CmdGetWiphys,
			fn:    func(ae *netlink.AttributeEncoder) { ae.Uint32(nl80211.AttrWiphy, 7) },
			errno: unix.ENOENT,
			kind:  wifitypes.KindWiphyNotFound,
		},
		{
			name:  "required attribute",
			cmd:   nl80211.CmdAssociate,
			errno: unix.ENODATA,
			kind:  wifitypes.KindMissingAttribute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Execute(request(t, tt.cmd, tt.fn), nl80211.FamilyID, netlink.Request)
			if !errors.Is(err, tt.errno) {
				t.Fatalf("unexpected errno: want %v, got: %v", tt.errno, err)
			}

			var oerr *netlink.OpError
			if !errors.As(err, &oerr) || oerr.Message == "" {
				t.Fatalf("expected extended acknowledgement message, got: %v", err)
			}

			if want, got := tt.kind, wifitypes.KindOf(ctlsock.FromError(err)); want != got {
				t.Fatalf("unexpected error kind: want %q, got %q", want, got)
			}
		})
	}
}

func TestServerFailureReply(t *testing.T) {
	c := dial(t, serve(t))
	ifi := addInterface(t, c)

	msgs, err := c.Execute(request(t, nl80211.CmdAssociate, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, ifi.Index)
		wire.EncodeSSID(ae, "nowhere")
	}), nl80211.FamilyID, netlink.Request)
	if err != nil {
		t.Fatalf("failed to execute: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}

	ev, err := wire.ParseEvent(&nlattr.Decoder{}, msgs[0])
	if err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}

	if want, got := wifitypes.KindAuthFailed, wifitypes.KindOf(ev.Err()); want != got {
		t.Fatalf("unexpected failure kind: want %q, got %q", want, got)
	}
	if ev.State != wifitypes.StateIdle {
		t.Fatalf("unexpected state after failure: %v", ev.State)
	}
}

func TestServerNotifications(t *testing.T) {
	path := serve(t)
	c := dial(t, path)
	watch := dial(t, path)

	if err := watch.JoinGroup(nl80211.GroupID(nl80211.GroupMLME)); err != nil {
		t.Fatalf("failed to join group: %v", err)
	}

	// Requests on a session are served in order, so the group is joined once
	// this returns.
	if _, err := watch.Execute(request(t, nl80211.CmdGetWiphys, nil), nl80211.FamilyID, netlink.Request|netlink.Dump); err != nil {
		t.Fatalf("failed to dump wiphys: %v", err)
	}

	ifi := addInterface(t, c)
	_, err := c.Execute(request(t, nl80211.CmdAssociate, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, ifi.Index)
		wire.EncodeSSID(ae, "testnet")
	}), nl80211.FamilyID, netlink.Request)
	if err != nil {
		t.Fatalf("failed to associate: %v", err)
	}

	if err := watch.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}

	var states []wifitypes.State
	for len(states) < 2 {
		gmsgs, nmsgs, err := watch.Receive()
		if err != nil {
			t.Fatalf("failed to receive: %v", err)
		}

		for i, m := range gmsgs {
			if nmsgs[i].Header.Type != nl80211.FamilyID || nmsgs[i].Header.Sequence != 0 {
				t.Fatalf("unexpected notification header: %+v", nmsgs[i].Header)
			}

			ev, err := wire.ParseEvent(&nlattr.Decoder{}, m)
			if err != nil {
				t.Fatalf("failed to parse event: %v", err)
			}
			if ev.Interface != ifi.Index {
				t.Fatalf("unexpected interface: %d", ev.Interface)
			}
			states = append(states, ev.State)
		}
	}

	want := []wifitypes.State{wifitypes.StateAuthenticating, wifitypes.StateAssociated}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Fatalf("unexpected states (-want +got):\n%s", diff)
	}
}

func TestErrnoKinds(t *testing.T) {
	seen := make(map[unix.Errno]wifitypes.ErrorKind)
	for k := wifitypes.KindMalformedAttribute; k <= wifitypes.KindNotFound; k++ {
		errno := ctlsock.Errno(wifitypes.Errorf(k, "test"))
		if errno == unix.EIO {
			t.Fatalf("kind %q has no errno", k)
		}
		if prev, ok := seen[errno]; ok {
			t.Fatalf("kinds %q and %q share errno %v", prev, k, errno)
		}
		seen[errno] = k

		if got := ctlsock.Kind(errno); got != k {
			t.Fatalf("errno %v maps back to %q, want %q", errno, got, k)
		}
	}

	if got := ctlsock.Errno(errors.New("plain")); got != unix.EIO {
		t.Fatalf("unexpected errno for plain error: %v", got)
	}

	err := ctlsock.FromError(&netlink.OpError{Op: "receive", Err: unix.EBUSY, Message: "interface busy"})
	var werr *wifitypes.Error
	if !errors.As(err, &werr) || werr.Kind != wifitypes.KindInterfaceBusy {
		t.Fatalf("unexpected converted error: %v", err)
	}
}

func TestServerHangupAbortsScan(t *testing.T) {
	path, _ := serveSim(t, sim.Config{HoldScans: true})
	c := dial(t, path)
	ifi := addInterface(t, c)

	sock, err := ctlsock.Dial(path)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	scanner := genetlink.NewConn(netlink.NewConn(sock, 0))

	_, err = scanner.Send(request(t, nl80211.CmdInitiateScan, func(ae *netlink.AttributeEncoder) {
		wire.EncodeIfindex(ae, ifi.Index)
	}), nl80211.FamilyID, netlink.Request)
	if err != nil {
		t.Fatalf("failed to send scan request: %v", err)
	}

	waitState(t, c, ifi.Index, wifitypes.StateScanning)

	// The requester goes away without waiting for results.
	if err := scanner.Close(); err != nil {
		t.Fatalf("failed to close scanning connection: %v", err)
	}

	waitState(t, c, ifi.Index, wifitypes.StateIdle)
}

// waitState polls interface ifindex over c until it reaches want.
func waitState(t *testing.T, c *genetlink.Conn, ifindex int, want wifitypes.State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := c.Execute(request(t, nl80211.CmdGetInterfaces, func(ae *netlink.AttributeEncoder) {
			wire.EncodeIfindex(ae, ifindex)
		}), nl80211.FamilyID, netlink.Request)
		if err != nil {
			t.Fatalf("failed to get interface: %v", err)
		}
		if len(msgs) == 1 {
			ifi, err := wire.ParseInterface(decode(t, msgs[0]))
			if err != nil {
				t.Fatalf("failed to parse interface: %v", err)
			}
			if ifi.State == want {
				return
			}
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("interface %d never reached state %v", ifindex, want)
}

// serve starts a server backed by a simulated radio and returns its socket
// path.
func serve(t *testing.T) string {
	t.Helper()

	path, _ := serveSim(t, sim.Config{})
	return path
}

// serveSim is like serve, but configures the simulated radio with cfg and
// also returns it.
func serveSim(t *testing.T, cfg sim.Config) (string, *sim.Provider) {
	t.Helper()

	cfg.Wiphys = []wifitypes.Wiphy{{Index: 0, Name: "phy0"}}
	cfg.Networks = []sim.Network{{
		SSID:    "testnet",
		BSSID:   net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		Channel: 6,
	}}
	p := sim.New(cfg)

	met := metrics.New(nil)
	hub := notify.NewHub(0, met, nil)
	reg := registry.New(registry.Config{Provider: p, Notifier: hub, Metrics: met})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	scans := scan.New(scan.Config{Provider: p, Metrics: met})

	d := dispatch.New(dispatch.Config{
		Registry: reg,
		Scans:    scans,
		Events:   p.Events(),
		Metrics:  met,
	})

	path := filepath.Join(t.TempDir(), "wifid.sock")
	l, err := ctlsock.Listen(path)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := ctlsock.NewServer(ctlsock.Config{Handler: d, Hub: hub, Metrics: met})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("failed to serve: %v", err)
		}

		scans.Close()
		reg.Close(context.Background())
		_ = p.Close()
	})

	return path, p
}

func dial(t *testing.T, path string) *genetlink.Conn {
	t.Helper()

	sock, err := ctlsock.Dial(path)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	c := genetlink.NewConn(netlink.NewConn(sock, 0))
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func request(t *testing.T, cmd nl80211.Command, fn func(ae *netlink.AttributeEncoder)) genetlink.Message {
	t.Helper()

	b, err := nlattr.Encode(func(ae *netlink.AttributeEncoder) error {
		if fn != nil {
			fn(ae)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to encode attributes: %v", err)
	}

	return genetlink.Message{
		Header: genetlink.Header{Command: uint8(cmd), Version: nl80211.GenlVersion},
		Data:   b,
	}
}

func decode(t *testing.T, m genetlink.Message) []nlattr.Attribute {
	t.Helper()

	attrs, err := (&nlattr.Decoder{}).Decode(m.Data)
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}

	return attrs
}

func addInterface(t *testing.T, c *genetlink.Conn) *wifitypes.Interface {
	t.Helper()

	msgs, err := c.Execute(request(t, nl80211.CmdAddVirtualInterface, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(nl80211.AttrWiphy, 0)
		ae.String(nl80211.AttrIfname, "wlan0")
	}), nl80211.FamilyID, netlink.Request)
	if err != nil {
		t.Fatalf("failed to add interface: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}

	ifi, err := wire.ParseInterface(decode(t, msgs[0]))
	if err != nil {
		t.Fatalf("failed to parse interface: %v", err)
	}

	return ifi
}
