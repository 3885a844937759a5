package vif_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/radio/sim"
	"github.com/mdlayher/wifictl/wifitypes"
)

var (
	bssidA = net.HardwareAddr{0x02, 0xaa, 0x00, 0x00, 0x00, 0x01}
	bssidB = net.HardwareAddr{0x02, 0xbb, 0x00, 0x00, 0x00, 0x01}
)

type recorder struct {
	mu     sync.Mutex
	events []wifitypes.Event
}

func (r *recorder) Notify(ev *wifitypes.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
}

func (r *recorder) Events() []wifitypes.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wifitypes.Event(nil), r.events...)
}

func testMachine(t *testing.T, typ wifitypes.InterfaceType, cfg sim.Config) (*vif.Machine, *sim.Provider, *recorder) {
	t.Helper()

	cfg.Wiphys = []wifitypes.Wiphy{{Index: 0, Name: "phy0"}}
	cfg.Networks = append(cfg.Networks,
		sim.Network{SSID: "home", BSSID: bssidA, Channel: 6, PHYMode: wifitypes.PHYModeG},
		sim.Network{SSID: "locked", BSSID: bssidB, Channel: 36, RefuseAuth: 15},
	)

	p := sim.New(cfg)
	t.Cleanup(func() { _ = p.Close() })

	ifi, err := p.CreateInterface(context.Background(), 0, typ, "wlan0")
	if err != nil {
		t.Fatalf("failed to create interface: %v", err)
	}

	r := &recorder{}
	m := vif.New(*ifi, vif.Config{Provider: p, Notifier: r})
	return m, p, r
}

// states extracts the (previous, next) pairs of state change events.
func states(evs []wifitypes.Event) [][2]wifitypes.State {
	var out [][2]wifitypes.State
	for _, ev := range evs {
		if ev.Type == wifitypes.EventStateChanged {
			out = append(out, [2]wifitypes.State{ev.Previous, ev.State})
		}
	}
	return out
}

func TestMachineAssociate(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	a, err := m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "home"})
	if err != nil {
		t.Fatalf("failed to associate: %v", err)
	}

	if want, got := wifitypes.StateAssociated, m.State(); want != got {
		t.Fatalf("unexpected state: want %v, got %v", want, got)
	}
	if want, got := uint16(1), a.AID; want != got {
		t.Fatalf("unexpected AID: want %d, got %d", want, got)
	}
	if want, got := bssidA.String(), a.BSS.BSSID.String(); want != got {
		t.Fatalf("unexpected BSSID: want %s, got %s", want, got)
	}

	want := [][2]wifitypes.State{
		{wifitypes.StateIdle, wifitypes.StateAuthenticating},
		{wifitypes.StateAuthenticating, wifitypes.StateAssociated},
	}
	if diff := cmp.Diff(want, states(r.Events())); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}

	// A second attempt while associated is refused without a transition.
	_, err = m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "home"})
	if !errors.Is(err, wifitypes.ErrInterfaceBusy) {
		t.Fatalf("expected interface busy, got: %v", err)
	}
	if want, got := 2, len(r.Events()); want != got {
		t.Fatalf("unexpected event count: want %d, got %d", want, got)
	}
}

func TestMachineAssociateRefused(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	_, err := m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "locked"})

	var werr *wifitypes.Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected wifitypes error, got: %v", err)
	}
	if diff := cmp.Diff(wifitypes.KindAuthFailed, werr.Kind); diff != "" {
		t.Fatalf("unexpected kind (-want +got):\n%s", diff)
	}
	if want, got := uint16(15), werr.Reason; want != got {
		t.Fatalf("unexpected reason: want %d, got %d", want, got)
	}

	evs := r.Events()
	last := evs[len(evs)-1]
	want := wifitypes.Event{
		Type:      wifitypes.EventStateChanged,
		Interface: m.Index(),
		State:     wifitypes.StateIdle,
		Previous:  wifitypes.StateAuthenticating,
		Status:    wifitypes.KindAuthFailed,
		Reason:    15,
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Fatalf("unexpected failure notification (-want +got):\n%s", diff)
	}

	// The failure reply and the notification carry the same reason.
	var nerr *wifitypes.Error
	if !errors.As(last.Err(), &nerr) || nerr.Kind != werr.Kind || nerr.Reason != werr.Reason {
		t.Fatalf("notification error %v does not match reply %v", last.Err(), err)
	}
}

func TestMachineAssociateNotStation(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeMonitor, sim.Config{})

	_, err := m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "home"})
	if !errors.Is(err, wifitypes.ErrNotSupported) {
		t.Fatalf("expected not supported, got: %v", err)
	}
	if len(r.Events()) != 0 {
		t.Fatalf("unexpected events: %v", r.Events())
	}
}

func TestMachinePeerDeauthClearsKeys(t *testing.T) {
	m, p, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})
	ctx := context.Background()

	if _, err := m.Associate(ctx, wifitypes.AssociateParams{SSID: "home"}); err != nil {
		t.Fatalf("failed to associate: %v", err)
	}

	keys := []wifitypes.Key{
		{ID: 0, Type: wifitypes.KeyTypePairwise, Cipher: wifitypes.CipherCCMP, Data: make([]byte, 16), MAC: bssidA},
		{ID: 1, Type: wifitypes.KeyTypeGroup, Cipher: wifitypes.CipherCCMP, Data: make([]byte, 16)},
	}
	for _, k := range keys {
		if err := m.AddKey(ctx, k); err != nil {
			t.Fatalf("failed to add key: %v", err)
		}
	}
	if want, got := 2, len(p.Keys(m.Index())); want != got {
		t.Fatalf("unexpected radio key count: want %d, got %d", want, got)
	}

	m.Deauthenticated(ctx, 3)

	if want, got := wifitypes.StateIdle, m.State(); want != got {
		t.Fatalf("unexpected state: want %v, got %v", want, got)
	}
	if n := len(m.Keys()); n != 0 {
		t.Fatalf("expected no keys, got %d", n)
	}
	if n := len(p.Keys(m.Index())); n != 0 {
		t.Fatalf("expected no radio keys, got %d", n)
	}
	if want, got := uint16(0), m.Association().AID; want != got {
		t.Fatalf("unexpected AID: want %d, got %d", want, got)
	}

	evs := r.Events()
	last := evs[len(evs)-1]
	if !last.Deauthenticated || last.Reason != 3 || last.State != wifitypes.StateIdle {
		t.Fatalf("unexpected deauthentication event: %+v", last)
	}
}

func TestMachineDeauthenticateDuringAuth(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{AssociateDelay: time.Hour})

	errC := make(chan error, 1)
	go func() {
		_, err := m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "home"})
		errC <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for m.State() != wifitypes.StateAuthenticating {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for authentication to begin")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Disassociate(context.Background(), 3); !errors.Is(err, wifitypes.ErrInterfaceBusy) {
		t.Fatalf("expected interface busy, got: %v", err)
	}
	if err := m.Deauthenticate(context.Background(), 3); err != nil {
		t.Fatalf("failed to deauthenticate: %v", err)
	}

	var err error
	select {
	case err = <-errC:
	case <-time.After(5 * time.Second):
		t.Fatal("association attempt was not aborted")
	}

	var werr *wifitypes.Error
	if !errors.As(err, &werr) || werr.Kind != wifitypes.KindAuthFailed || werr.Reason != 3 {
		t.Fatalf("unexpected associate error: %v", err)
	}

	want := [][2]wifitypes.State{
		{wifitypes.StateIdle, wifitypes.StateAuthenticating},
		{wifitypes.StateAuthenticating, wifitypes.StateIdle},
	}
	if diff := cmp.Diff(want, states(r.Events())); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}
}

func TestMachineScan(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	gen, err := m.BeginScan(nil)
	if err != nil {
		t.Fatalf("failed to begin scan: %v", err)
	}
	if _, err := m.BeginScan(nil); !errors.Is(err, wifitypes.ErrScanInProgress) {
		t.Fatalf("expected scan in progress, got: %v", err)
	}
	if err := m.SetType(context.Background(), wifitypes.InterfaceTypeAP); !errors.Is(err, wifitypes.ErrInterfaceBusy) {
		t.Fatalf("expected interface busy, got: %v", err)
	}
	if _, err := m.Associate(context.Background(), wifitypes.AssociateParams{SSID: "home"}); !errors.Is(err, wifitypes.ErrInterfaceBusy) {
		t.Fatalf("expected interface busy, got: %v", err)
	}

	bss := []*wifitypes.BSS{{BSSID: bssidA, SSID: "home", Channel: 6}}
	if !m.FinishScan(gen, bss, nil) {
		t.Fatal("scan completion was discarded")
	}

	// A repeated or stale completion changes nothing.
	if m.FinishScan(gen, nil, nil) {
		t.Fatal("stale scan completion was applied")
	}

	if diff := cmp.Diff(bss, m.LastScan()); diff != "" {
		t.Fatalf("unexpected scan results (-want +got):\n%s", diff)
	}

	evs := r.Events()
	want := []wifitypes.Event{
		{
			Type:      wifitypes.EventStateChanged,
			Interface: m.Index(),
			State:     wifitypes.StateScanning,
			Previous:  wifitypes.StateIdle,
		},
		{
			Type:      wifitypes.EventStateChanged,
			Interface: m.Index(),
			State:     wifitypes.StateIdle,
			Previous:  wifitypes.StateScanning,
		},
		{
			Type:      wifitypes.EventScanResults,
			Interface: m.Index(),
			BSS:       bss,
		},
	}
	if diff := cmp.Diff(want, evs); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestMachineScanTimeout(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	gen, err := m.BeginScan(nil)
	if err != nil {
		t.Fatalf("failed to begin scan: %v", err)
	}
	if !m.FinishScan(gen, nil, wifitypes.ErrScanTimeout) {
		t.Fatal("scan timeout was discarded")
	}

	// The radio reports results after the timeout.
	if m.FinishScan(gen, []*wifitypes.BSS{{SSID: "late"}}, nil) {
		t.Fatal("late scan results were applied")
	}

	if n := len(m.LastScan()); n != 0 {
		t.Fatalf("expected no scan results, got %d", n)
	}

	evs := r.Events()
	if want, got := 2, len(evs); want != got {
		t.Fatalf("unexpected event count: want %d, got %d", want, got)
	}
	if diff := cmp.Diff(wifitypes.KindScanTimeout, evs[1].Status); diff != "" {
		t.Fatalf("unexpected status (-want +got):\n%s", diff)
	}
}

func TestMachineSetType(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	if err := m.SetType(context.Background(), wifitypes.InterfaceType(42)); !errors.Is(err, wifitypes.ErrMalformedAttribute) {
		t.Fatalf("expected malformed attribute, got: %v", err)
	}
	if err := m.SetType(context.Background(), wifitypes.InterfaceTypeAP); err != nil {
		t.Fatalf("failed to set type: %v", err)
	}

	if want, got := wifitypes.InterfaceTypeAP, m.Snapshot().Type; want != got {
		t.Fatalf("unexpected type: want %v, got %v", want, got)
	}

	want := []wifitypes.Event{{
		Type:      wifitypes.EventInterfaceChanged,
		Interface: m.Index(),
		Name:      "wlan0",
		IfType:    wifitypes.InterfaceTypeAP,
		State:     wifitypes.StateIdle,
	}}
	if diff := cmp.Diff(want, r.Events()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestMachineKeys(t *testing.T) {
	m, _, _ := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})
	ctx := context.Background()

	k := wifitypes.Key{ID: 2, Type: wifitypes.KeyTypeGroup, Cipher: wifitypes.CipherTKIP, Data: []byte{1}}
	if err := m.AddKey(ctx, k); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}

	// Replacing a key with the same identity keeps one copy.
	k.Data = []byte{2}
	if err := m.AddKey(ctx, k); err != nil {
		t.Fatalf("failed to replace key: %v", err)
	}
	if diff := cmp.Diff([]wifitypes.Key{k}, m.Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}

	if err := m.DeleteKey(ctx, wifitypes.Key{ID: 2, Type: wifitypes.KeyTypePairwise}); !errors.Is(err, wifitypes.ErrNotFound) {
		t.Fatalf("expected not found, got: %v", err)
	}
	if err := m.DeleteKey(ctx, wifitypes.Key{ID: 2, Type: wifitypes.KeyTypeGroup}); err != nil {
		t.Fatalf("failed to delete key: %v", err)
	}
	if n := len(m.Keys()); n != 0 {
		t.Fatalf("expected no keys, got %d", n)
	}
}

func TestMachineStations(t *testing.T) {
	m, _, _ := testMachine(t, wifitypes.InterfaceTypeAP, sim.Config{})

	sta1 := wifitypes.Station{HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, AID: 1}
	sta2 := wifitypes.Station{HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 2}, AID: 2}

	tests := []struct {
		name string
		fn   func() error
		err  error
	}{
		{
			name: "add first",
			fn:   func() error { return m.AddStation(sta1) },
		},
		{
			name: "duplicate address",
			fn:   func() error { return m.AddStation(wifitypes.Station{HardwareAddr: sta1.HardwareAddr, AID: 9}) },
			err:  wifitypes.ErrExists,
		},
		{
			name: "duplicate AID",
			fn:   func() error { return m.AddStation(wifitypes.Station{HardwareAddr: sta2.HardwareAddr, AID: 1}) },
			err:  wifitypes.ErrExists,
		},
		{
			name: "add second",
			fn:   func() error { return m.AddStation(sta2) },
		},
		{
			name: "update to used AID",
			fn:   func() error { return m.UpdateStation(wifitypes.Station{HardwareAddr: sta2.HardwareAddr, AID: 1}) },
			err:  wifitypes.ErrExists,
		},
		{
			name: "update unknown",
			fn: func() error {
				return m.UpdateStation(wifitypes.Station{HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 3}, AID: 3})
			},
			err: wifitypes.ErrNotFound,
		},
		{
			name: "update",
			fn:   func() error { return m.UpdateStation(wifitypes.Station{HardwareAddr: sta2.HardwareAddr, AID: 7}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if tt.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Fatalf("unexpected error:\n- want: %v\n-  got: %v", tt.err, err)
			}
		})
	}

	s, err := m.Station(sta2.HardwareAddr)
	if err != nil {
		t.Fatalf("failed to get station: %v", err)
	}
	if want, got := uint16(7), s.AID; want != got {
		t.Fatalf("unexpected AID: want %d, got %d", want, got)
	}

	stations, err := m.Stations()
	if err != nil {
		t.Fatalf("failed to list stations: %v", err)
	}
	if want, got := 2, len(stations); want != got {
		t.Fatalf("unexpected station count: want %d, got %d", want, got)
	}
}

func TestMachineStationsNotAP(t *testing.T) {
	m, _, _ := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	if err := m.AddStation(wifitypes.Station{HardwareAddr: bssidA, AID: 1}); !errors.Is(err, wifitypes.ErrNotSupported) {
		t.Fatalf("expected not supported, got: %v", err)
	}
	if err := m.SetBeacon(wifitypes.Beacon{Period: 100}); !errors.Is(err, wifitypes.ErrNotSupported) {
		t.Fatalf("expected not supported, got: %v", err)
	}
}

func TestMachineClose(t *testing.T) {
	m, _, r := testMachine(t, wifitypes.InterfaceTypeStation, sim.Config{})

	var aborted bool
	gen, err := m.BeginScan(func() { aborted = true })
	if err != nil {
		t.Fatalf("failed to begin scan: %v", err)
	}
	before := len(r.Events())

	m.Close(context.Background())
	m.Close(context.Background())

	if !aborted {
		t.Fatal("outstanding scan was not aborted")
	}
	if m.FinishScan(gen, nil, nil) != true {
		t.Fatal("scan completion for closed interface should still settle the state")
	}
	if diff := cmp.Diff(before, len(r.Events())); diff != "" {
		t.Fatalf("closed interface must not notify (-want +got):\n%s", diff)
	}

	_, err = m.BeginScan(nil)
	if !errors.Is(err, wifitypes.ErrInterfaceNotFound) {
		t.Fatalf("expected interface not found, got: %v", err)
	}
}
