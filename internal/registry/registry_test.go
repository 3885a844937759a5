package registry_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/registry"
	"github.com/mdlayher/wifictl/radio/sim"
	"github.com/mdlayher/wifictl/wifitypes"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func (r *recorder) types() []wifitypes.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ts []wifitypes.EventType
	for _, ev := range r.events {
		ts = append(ts, ev.Type)
	}
	return ts
}

func newRegistry(t *testing.T) (*registry.Registry, *sim.Provider, *recorder, *metrics.Metrics) {
	t.Helper()

	p := sim.New(sim.Config{
		Wiphys: []wifitypes.Wiphy{
			{Index: 0, Name: "phy0"},
			{Index: 1, Name: "phy1"},
		},
		Networks: []sim.Network{
			{SSID: "home", BSSID: net.HardwareAddr{0x02, 0xaa, 0, 0, 0, 1}, Channel: 6},
		},
	})
	t.Cleanup(func() { _ = p.Close() })

	rec := &recorder{}
	m := metrics.New(nil)
	r := registry.New(registry.Config{Provider: p, Notifier: rec, Metrics: m})
	require.NoError(t, r.Load(context.Background()))

	return r, p, rec, m
}

func TestRegistryLoad(t *testing.T) {
	r, _, _, _ := newRegistry(t)

	ws := r.Wiphys()
	require.Len(t, ws, 2)
	assert.Equal(t, "phy0", ws[0].Name)
	assert.Equal(t, "phy1", ws[1].Name)
	assert.True(t, ws[0].Commands.Has(uint8(12)), "simulated wiphys support every command")

	_, err := r.Wiphy(7)
	assert.ErrorIs(t, err, wifitypes.ErrWiphyNotFound)
}

func TestRegistryCreateInterface(t *testing.T) {
	r, _, rec, met := newRegistry(t)
	ctx := context.Background()

	m, err := r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan0")
	require.NoError(t, err)

	ifi := m.Snapshot()
	assert.Equal(t, "wlan0", ifi.Name)
	assert.Equal(t, 0, ifi.PHY)
	assert.Equal(t, wifitypes.StateIdle, ifi.State)
	assert.Len(t, ifi.HardwareAddr, 6)

	got, err := r.Interface(ifi.Index)
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.CreateInterface(ctx, 1, wifitypes.InterfaceTypeStation, "wlan0")
	assert.ErrorIs(t, err, wifitypes.ErrExists)

	_, err = r.CreateInterface(ctx, 9, wifitypes.InterfaceTypeStation, "wlan9")
	assert.ErrorIs(t, err, wifitypes.ErrWiphyNotFound)

	_, err = r.CreateInterface(ctx, 0, wifitypes.InterfaceType(99), "wlan1")
	assert.ErrorIs(t, err, wifitypes.ErrMalformedAttribute)

	assert.Equal(t, []wifitypes.EventType{wifitypes.EventInterfaceAdded}, rec.types())
	assert.Equal(t, float64(1), testutil.ToFloat64(met.Interfaces))
}

func TestRegistryInterfacesByWiphy(t *testing.T) {
	r, _, _, _ := newRegistry(t)
	ctx := context.Background()

	for _, c := range []struct {
		wiphy int
		name  string
	}{
		{0, "wlan0"},
		{1, "wlan1"},
		{0, "mon0"},
	} {
		_, err := r.CreateInterface(ctx, c.wiphy, wifitypes.InterfaceTypeStation, c.name)
		require.NoError(t, err)
	}

	assert.Len(t, r.Interfaces(-1), 3)

	var names []string
	for _, m := range r.Interfaces(0) {
		names = append(names, m.Snapshot().Name)
	}
	assert.Equal(t, []string{"wlan0", "mon0"}, names)
}

func TestRegistryDeleteInterface(t *testing.T) {
	r, p, rec, met := newRegistry(t)
	ctx := context.Background()

	m, err := r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan0")
	require.NoError(t, err)

	_, err = m.Associate(ctx, wifitypes.AssociateParams{SSID: "home"})
	require.NoError(t, err)
	require.NoError(t, m.AddKey(ctx, wifitypes.Key{ID: 1, Type: wifitypes.KeyTypeGroup, Data: []byte{1}}))

	require.NoError(t, r.DeleteInterface(ctx, m.Index()))

	_, err = r.Interface(m.Index())
	assert.ErrorIs(t, err, wifitypes.ErrInterfaceNotFound)
	assert.Empty(t, p.Keys(m.Index()))
	assert.Equal(t, float64(0), testutil.ToFloat64(met.Interfaces))

	err = r.DeleteInterface(ctx, m.Index())
	assert.ErrorIs(t, err, wifitypes.ErrInterfaceNotFound)

	// The name is free again.
	_, err = r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan0")
	assert.NoError(t, err)

	types := rec.types()
	assert.Contains(t, types, wifitypes.EventInterfaceRemoved)
}

func TestRegistryRenameWiphy(t *testing.T) {
	r, _, rec, _ := newRegistry(t)

	require.NoError(t, r.RenameWiphy(0, "radio0"))
	w, err := r.Wiphy(0)
	require.NoError(t, err)
	assert.Equal(t, "radio0", w.Name)

	assert.ErrorIs(t, r.RenameWiphy(1, "radio0"), wifitypes.ErrExists)
	assert.ErrorIs(t, r.RenameWiphy(5, "radio5"), wifitypes.ErrWiphyNotFound)
	assert.ErrorIs(t, r.RenameWiphy(1, ""), wifitypes.ErrMalformedAttribute)

	assert.Equal(t, []wifitypes.EventType{wifitypes.EventWiphyRenamed}, rec.types())
}

func TestRegistryRemoveWiphy(t *testing.T) {
	r, _, rec, _ := newRegistry(t)
	ctx := context.Background()

	a, err := r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan0")
	require.NoError(t, err)
	b, err := r.CreateInterface(ctx, 1, wifitypes.InterfaceTypeStation, "wlan1")
	require.NoError(t, err)

	require.NoError(t, r.RemoveWiphy(ctx, 0))

	_, err = r.Interface(a.Index())
	assert.ErrorIs(t, err, wifitypes.ErrInterfaceNotFound)
	_, err = r.Interface(b.Index())
	assert.NoError(t, err)

	_, err = r.WiphyOf(b.Index())
	assert.NoError(t, err)

	assert.ErrorIs(t, r.RemoveWiphy(ctx, 0), wifitypes.ErrWiphyNotFound)

	assert.Equal(t, []wifitypes.EventType{
		wifitypes.EventInterfaceAdded,
		wifitypes.EventInterfaceAdded,
		wifitypes.EventInterfaceRemoved,
		wifitypes.EventWiphyRemoved,
	}, rec.types())
}

func TestRegistryConcurrentCreate(t *testing.T) {
	r, _, _, _ := newRegistry(t)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.CreateInterface(context.Background(), 0, wifitypes.InterfaceTypeStation, "wlan0"); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks, "exactly one creation of a name may succeed")
	assert.Len(t, r.Interfaces(-1), 1)
}

// stallingProvider blocks key installation until released, keeping the state
// machine of the interface locked meanwhile.
type stallingProvider struct {
	*sim.Provider
	entered chan struct{}
	release chan struct{}
}

func (p *stallingProvider) InstallKey(ctx context.Context, ifindex int, k wifitypes.Key) error {
	close(p.entered)
	<-p.release
	return p.Provider.InstallKey(ctx, ifindex, k)
}

func TestRegistryLookupsDuringSlowRadioCall(t *testing.T) {
	sp := &stallingProvider{
		Provider: sim.New(sim.Config{Wiphys: []wifitypes.Wiphy{
			{Index: 0, Name: "phy0"},
			{Index: 1, Name: "phy1"},
		}}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { _ = sp.Close() })

	r := registry.New(registry.Config{Provider: sp, RadioTimeout: 10 * time.Second})
	require.NoError(t, r.Load(context.Background()))

	ctx := context.Background()
	m, err := r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan0")
	require.NoError(t, err)

	keyErr := make(chan error, 1)
	go func() {
		keyErr <- m.AddKey(ctx, wifitypes.Key{Data: make([]byte, 16)})
	}()
	<-sp.entered

	done := make(chan error, 1)
	go func() {
		if _, err := r.CreateInterface(ctx, 0, wifitypes.InterfaceTypeStation, "wlan1"); err != nil {
			done <- err
			return
		}
		if n := len(r.Interfaces(-1)); n != 2 {
			done <- fmt.Errorf("expected 2 interfaces, got %d", n)
			return
		}
		if n := len(r.Interfaces(0)); n != 2 {
			done <- fmt.Errorf("expected 2 interfaces on phy0, got %d", n)
			return
		}
		if _, err := r.WiphyOf(m.Index()); err != nil {
			done <- err
			return
		}
		done <- r.RemoveWiphy(ctx, 1)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("registry operations waited for a radio call on another interface")
	}

	close(sp.release)
	require.NoError(t, <-keyErr)
}
