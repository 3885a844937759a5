// Package registry tracks the wiphys and virtual interfaces known to the
// control plane.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/radio"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// Config configures a Registry.
type Config struct {
	Provider radio.Provider

	// Notifier receives configuration events and, through each interface
	// state machine, connection state events.
	Notifier vif.Notifier

	RadioTimeout     time.Duration
	AssociateTimeout time.Duration

	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// A Registry owns every wiphy and the state machine of every interface.
//
// Provider calls are made without the registry lock held, so slow radio
// operations on one device never block lookups of another. The registry lock
// is never held while taking the lock of an interface state machine.
type Registry struct {
	p   radio.Provider
	n   vif.Notifier
	m   *metrics.Metrics
	log *zap.Logger

	radioTimeout time.Duration
	vifConfig    vif.Config

	mu     sync.RWMutex
	wiphys map[int]wifitypes.Wiphy
	ifaces map[int]*vif.Machine

	// pending reserves interface names while creation is delegated.
	pending map[string]bool
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = vif.NotifierFunc(func(*wifitypes.Event) {})
	}
	if cfg.RadioTimeout <= 0 {
		cfg.RadioTimeout = vif.DefaultRadioTimeout
	}

	return &Registry{
		p:            cfg.Provider,
		n:            cfg.Notifier,
		m:            metrics.OrNew(cfg.Metrics),
		log:          cfg.Log,
		radioTimeout: cfg.RadioTimeout,
		vifConfig: vif.Config{
			Provider:         cfg.Provider,
			Notifier:         cfg.Notifier,
			Log:              cfg.Log,
			RadioTimeout:     cfg.RadioTimeout,
			AssociateTimeout: cfg.AssociateTimeout,
		},
		wiphys:  make(map[int]wifitypes.Wiphy),
		ifaces:  make(map[int]*vif.Machine),
		pending: make(map[string]bool),
	}
}

// Load registers the wiphys the radio reports.
func (r *Registry) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.radioTimeout)
	defer cancel()

	ws, err := r.p.Wiphys(ctx)
	if err != nil {
		return fmt.Errorf("registry: failed to enumerate wiphys: %w", err)
	}

	for _, w := range ws {
		r.AddWiphy(w)
	}

	return nil
}

// AddWiphy registers or replaces a wiphy.
func (r *Registry) AddWiphy(w wifitypes.Wiphy) {
	r.mu.Lock()
	r.wiphys[w.Index] = w
	r.mu.Unlock()

	r.log.Info("wiphy registered",
		zap.Int("wiphy", w.Index),
		zap.String("name", w.Name),
		zap.Int("commands", len(w.Commands.Commands())))
}

// Wiphy returns the wiphy with index idx.
func (r *Registry) Wiphy(idx int) (wifitypes.Wiphy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.wiphys[idx]
	if !ok {
		return wifitypes.Wiphy{}, wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", idx)
	}

	return w, nil
}

// Wiphys returns every wiphy ordered by index.
func (r *Registry) Wiphys() []wifitypes.Wiphy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws := make([]wifitypes.Wiphy, 0, len(r.wiphys))
	for _, w := range r.wiphys {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Index < ws[j].Index })

	return ws
}

// RenameWiphy changes the name of a wiphy.
func (r *Registry) RenameWiphy(idx int, name string) error {
	if name == "" {
		return wifitypes.Errorf(wifitypes.KindMalformedAttribute, "empty wiphy name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wiphys[idx]
	if !ok {
		return wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", idx)
	}
	for _, o := range r.wiphys {
		if o.Index != idx && o.Name == name {
			return wifitypes.Errorf(wifitypes.KindExists, "wiphy name %q", name)
		}
	}

	w.Name = name
	r.wiphys[idx] = w

	r.n.Notify(&wifitypes.Event{
		Type:  wifitypes.EventWiphyRenamed,
		Wiphy: idx,
		Name:  name,
	})

	return nil
}

// RemoveWiphy deregisters a wiphy and deletes every interface it hosts.
func (r *Registry) RemoveWiphy(ctx context.Context, idx int) error {
	r.mu.Lock()
	if _, ok := r.wiphys[idx]; !ok {
		r.mu.Unlock()
		return wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", idx)
	}
	delete(r.wiphys, idx)

	var gone []*vif.Machine
	for i, m := range r.ifaces {
		if m.PHY() == idx {
			gone = append(gone, m)
			delete(r.ifaces, i)
		}
	}
	r.m.Interfaces.Set(float64(len(r.ifaces)))
	r.mu.Unlock()

	sort.Slice(gone, func(i, j int) bool { return gone[i].Index() < gone[j].Index() })
	for _, m := range gone {
		// The radio already removed these with the device.
		r.teardown(ctx, m, false)
	}

	r.n.Notify(&wifitypes.Event{Type: wifitypes.EventWiphyRemoved, Wiphy: idx})
	r.log.Info("wiphy removed", zap.Int("wiphy", idx), zap.Int("interfaces", len(gone)))

	return nil
}

// Interface returns the state machine of the interface with index ifindex.
func (r *Registry) Interface(ifindex int) (*vif.Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.ifaces[ifindex]
	if !ok {
		return nil, wifitypes.Errorf(wifitypes.KindInterfaceNotFound, "interface %d", ifindex)
	}

	return m, nil
}

// Interfaces returns the interfaces ordered by index. A non-negative wiphy
// limits the result to the interfaces of that wiphy.
func (r *Registry) Interfaces(wiphy int) []*vif.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms := make([]*vif.Machine, 0, len(r.ifaces))
	for _, m := range r.ifaces {
		if wiphy >= 0 && m.PHY() != wiphy {
			continue
		}
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Index() < ms[j].Index() })

	return ms
}

// WiphyOf returns the wiphy hosting the interface with index ifindex.
func (r *Registry) WiphyOf(ifindex int) (wifitypes.Wiphy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.ifaces[ifindex]
	if !ok {
		return wifitypes.Wiphy{}, wifitypes.Errorf(wifitypes.KindInterfaceNotFound, "interface %d", ifindex)
	}

	w, ok := r.wiphys[m.PHY()]
	if !ok {
		return wifitypes.Wiphy{}, wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", m.PHY())
	}

	return w, nil
}

func (r *Registry) nameInUse(name string) bool {
	if r.pending[name] {
		return true
	}
	for _, m := range r.ifaces {
		if m.Name() == name {
			return true
		}
	}

	return false
}

// CreateInterface creates a virtual interface named name on a wiphy.
func (r *Registry) CreateInterface(ctx context.Context, wiphy int, typ wifitypes.InterfaceType, name string) (*vif.Machine, error) {
	if !typ.Valid() {
		return nil, wifitypes.Errorf(wifitypes.KindMalformedAttribute, "interface type %d", typ)
	}

	r.mu.Lock()
	if _, ok := r.wiphys[wiphy]; !ok {
		r.mu.Unlock()
		return nil, wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", wiphy)
	}
	if r.nameInUse(name) {
		r.mu.Unlock()
		return nil, wifitypes.Errorf(wifitypes.KindExists, "interface name %q", name)
	}
	r.pending[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, name)
		r.mu.Unlock()
	}()

	rctx, cancel := context.WithTimeout(ctx, r.radioTimeout)
	ifi, err := r.p.CreateInterface(rctx, wiphy, typ, name)
	cancel()
	if err != nil {
		return nil, err
	}

	m := vif.New(*ifi, r.vifConfig)
	snap := m.Snapshot()

	r.mu.Lock()
	_, wiphyOK := r.wiphys[wiphy]
	_, dup := r.ifaces[ifi.Index]
	if !wiphyOK || dup {
		r.mu.Unlock()

		// The wiphy went away or the radio reused an index while the lock
		// was released.
		dctx, cancel := context.WithTimeout(ctx, r.radioTimeout)
		defer cancel()
		if derr := r.p.DestroyInterface(dctx, ifi.Index); derr != nil {
			r.log.Warn("failed to roll back interface", zap.Int("ifindex", ifi.Index), zap.Error(derr))
		}
		if !wiphyOK {
			return nil, wifitypes.Errorf(wifitypes.KindWiphyNotFound, "wiphy %d", wiphy)
		}
		return nil, wifitypes.Errorf(wifitypes.KindExists, "interface %d", ifi.Index)
	}

	r.ifaces[ifi.Index] = m
	r.m.Interfaces.Set(float64(len(r.ifaces)))
	r.n.Notify(&wifitypes.Event{
		Type:      wifitypes.EventInterfaceAdded,
		Wiphy:     wiphy,
		Interface: snap.Index,
		Name:      snap.Name,
		IfType:    snap.Type,
		State:     snap.State,
	})
	r.mu.Unlock()

	r.log.Info("interface created",
		zap.Int("wiphy", wiphy),
		zap.Int("ifindex", snap.Index),
		zap.String("name", snap.Name),
		zap.Stringer("type", snap.Type))

	return m, nil
}

// DeleteInterface removes a virtual interface, aborting any scan or
// authentication in progress and removing its keys.
func (r *Registry) DeleteInterface(ctx context.Context, ifindex int) error {
	r.mu.Lock()
	m, ok := r.ifaces[ifindex]
	if !ok {
		r.mu.Unlock()
		return wifitypes.Errorf(wifitypes.KindInterfaceNotFound, "interface %d", ifindex)
	}
	delete(r.ifaces, ifindex)
	r.m.Interfaces.Set(float64(len(r.ifaces)))
	r.mu.Unlock()

	r.teardown(ctx, m, true)
	return nil
}

// teardown closes a machine already removed from the registry. Radio
// failures are logged; the interface is gone either way.
func (r *Registry) teardown(ctx context.Context, m *vif.Machine, destroy bool) {
	snap := m.Snapshot()
	m.Close(ctx)

	if destroy {
		rctx, cancel := context.WithTimeout(ctx, r.radioTimeout)
		err := r.p.DestroyInterface(rctx, snap.Index)
		cancel()
		if err != nil {
			r.log.Warn("radio failed to destroy interface", zap.Int("ifindex", snap.Index), zap.Error(err))
		}
	}

	r.n.Notify(&wifitypes.Event{
		Type:      wifitypes.EventInterfaceRemoved,
		Wiphy:     snap.PHY,
		Interface: snap.Index,
		Name:      snap.Name,
	})

	r.log.Info("interface removed", zap.Int("ifindex", snap.Index), zap.String("name", snap.Name))
}

// Close tears down every interface without destroying it in the radio.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	ms := make([]*vif.Machine, 0, len(r.ifaces))
	for _, m := range r.ifaces {
		ms = append(ms, m)
	}
	r.mu.Unlock()

	for _, m := range ms {
		m.Close(ctx)
	}
}
