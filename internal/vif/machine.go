// Package vif implements the per-interface connection state machine.
//
// Each virtual interface is an independently locked Machine. Operations on one
// interface are serialized by its mutex while operations on different
// interfaces proceed in parallel. The two long waits, scanning and
// authentication/association, run outside the mutex. Each begins by bumping a
// generation counter, and a completion carrying a stale generation is
// discarded so it can never re-apply a transition.
//
// States move Idle -> Scanning -> Idle and
// Idle -> Authenticating -> Associated -> Idle. Every transition is reported to
// a Notifier while the mutex is held, so notifications for one interface are
// observed in transition order.
package vif

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/radio"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// DefaultRadioTimeout bounds delegated radio operations which carry no
// timeout of their own.
const DefaultRadioTimeout = 5 * time.Second

// DefaultAssociateTimeout bounds an association attempt which does not
// specify a timeout.
const DefaultAssociateTimeout = 10 * time.Second

// A Notifier receives state change events. Notify must not block.
type Notifier interface {
	Notify(ev *wifitypes.Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ev *wifitypes.Event)

// Notify implements Notifier.
func (fn NotifierFunc) Notify(ev *wifitypes.Event) { fn(ev) }

// Config configures a Machine.
type Config struct {
	Provider radio.Provider
	Notifier Notifier
	Log      *zap.Logger

	// RadioTimeout bounds provider calls; zero means DefaultRadioTimeout.
	RadioTimeout time.Duration

	// AssociateTimeout is used when an associate request does not carry a
	// timeout; zero means DefaultAssociateTimeout.
	AssociateTimeout time.Duration
}

// A Machine is the state of one virtual interface.
type Machine struct {
	p   radio.Provider
	n   Notifier
	log *zap.Logger

	radioTimeout     time.Duration
	associateTimeout time.Duration

	// Immutable after New, so they are read without mu.
	index int
	name  string
	phy   int

	mu     sync.Mutex
	ifi    wifitypes.Interface
	gen    uint64
	closed bool

	assoc      wifitypes.Association
	cancelAuth context.CancelFunc
	abortScan  func()
	lastScan   []*wifitypes.BSS

	keys     []wifitypes.Key
	beacon   *wifitypes.Beacon
	stations []wifitypes.Station
}

// New creates a Machine for ifi in the Idle state.
func New(ifi wifitypes.Interface, cfg Config) *Machine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(*wifitypes.Event) {})
	}
	if cfg.RadioTimeout <= 0 {
		cfg.RadioTimeout = DefaultRadioTimeout
	}
	if cfg.AssociateTimeout <= 0 {
		cfg.AssociateTimeout = DefaultAssociateTimeout
	}

	ifi.State = wifitypes.StateIdle

	return &Machine{
		p:   cfg.Provider,
		n:   cfg.Notifier,
		log: cfg.Log.With(zap.Int("ifindex", ifi.Index), zap.String("ifname", ifi.Name)),

		radioTimeout:     cfg.RadioTimeout,
		associateTimeout: cfg.AssociateTimeout,

		index: ifi.Index,
		name:  ifi.Name,
		phy:   ifi.PHY,

		ifi:   ifi,
		assoc: wifitypes.Association{Interface: ifi.Index, State: wifitypes.StateIdle},
	}
}

// Index returns the interface index.
func (m *Machine) Index() int { return m.index }

// Name returns the interface name.
func (m *Machine) Name() string { return m.name }

// PHY returns the index of the wiphy hosting the interface.
func (m *Machine) PHY() int { return m.phy }

// Snapshot returns the interface including its current state.
func (m *Machine) Snapshot() wifitypes.Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	ifi := m.ifi
	ifi.HardwareAddr = append(net.HardwareAddr(nil), m.ifi.HardwareAddr...)
	return ifi
}

// State returns the current connection state.
func (m *Machine) State() wifitypes.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ifi.State
}

// Association returns the authentication/association context.
func (m *Machine) Association() wifitypes.Association {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.assoc
	a.State = m.ifi.State
	if m.assoc.BSS != nil {
		bss := *m.assoc.BSS
		a.BSS = &bss
	}

	return a
}

// Keys returns the installed keys.
func (m *Machine) Keys() []wifitypes.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wifitypes.Key(nil), m.keys...)
}

// LastScan returns the results of the last successful scan.
func (m *Machine) LastScan() []*wifitypes.BSS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*wifitypes.BSS(nil), m.lastScan...)
}

func (m *Machine) radioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.radioTimeout)
}

// setState moves to s and reports the transition. m.mu must be held.
func (m *Machine) setState(s wifitypes.State, ev wifitypes.Event) {
	prev := m.ifi.State
	m.ifi.State = s
	m.assoc.State = s

	ev.Type = wifitypes.EventStateChanged
	ev.Interface = m.ifi.Index
	ev.State = s
	ev.Previous = prev

	m.log.Debug("state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
		zap.Uint16("reason", ev.Reason),
		zap.Stringer("status", ev.Status))

	if !m.closed {
		m.n.Notify(&ev)
	}
}

func (m *Machine) checkOpen() error {
	if m.closed {
		return &wifitypes.Error{Kind: wifitypes.KindInterfaceNotFound}
	}

	return nil
}

// BeginScan moves Idle -> Scanning and returns the generation of the scan.
// abort is called if the interface is closed while the scan is outstanding.
func (m *Machine) BeginScan(abort func()) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	switch m.ifi.State {
	case wifitypes.StateIdle:
	case wifitypes.StateScanning:
		return 0, &wifitypes.Error{Kind: wifitypes.KindScanInProgress}
	default:
		return 0, wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot scan while %s", m.ifi.State)
	}

	m.gen++
	m.abortScan = abort
	m.setState(wifitypes.StateScanning, wifitypes.Event{})

	return m.gen, nil
}

// FinishScan moves Scanning -> Idle for the scan of generation gen. A nil err
// records bss as the latest results. It reports false, changing nothing,
// when gen is no longer the outstanding scan.
func (m *Machine) FinishScan(gen uint64, bss []*wifitypes.BSS, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.ifi.State != wifitypes.StateScanning {
		return false
	}

	m.abortScan = nil
	m.gen++

	ev := wifitypes.Event{}
	if err != nil {
		ev.Status = wifitypes.KindOf(err)
		if ev.Status == 0 {
			ev.Status = wifitypes.KindScanAborted
		}
	} else {
		m.lastScan = bss
	}

	m.setState(wifitypes.StateIdle, ev)

	if err == nil && !m.closed {
		m.n.Notify(&wifitypes.Event{
			Type:      wifitypes.EventScanResults,
			Interface: m.ifi.Index,
			BSS:       bss,
		})
	}

	return true
}

// Associate runs an authentication and association attempt. It moves
// Idle -> Authenticating, delegates to the radio outside the lock, then moves
// to Associated or back to Idle. A failed attempt returns an AuthFailed or
// AssociationFailed error carrying the same reason code as the notification.
func (m *Machine) Associate(ctx context.Context, p wifitypes.AssociateParams) (*wifitypes.Association, error) {
	gen, actx, cancel, err := m.beginAssociate(ctx, p)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := m.p.Associate(actx, m.ifi.Index, p)
	return m.completeAssociate(gen, res, err)
}

func (m *Machine) beginAssociate(ctx context.Context, p wifitypes.AssociateParams) (uint64, context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return 0, nil, nil, err
	}
	if p.SSID == "" {
		return 0, nil, nil, &wifitypes.Error{Kind: wifitypes.KindMissingAttribute, Attr: nl80211.AttrSSID}
	}

	switch m.ifi.Type {
	case wifitypes.InterfaceTypeStation, wifitypes.InterfaceTypeUnspecified, wifitypes.InterfaceTypeAdHoc:
	default:
		return 0, nil, nil, wifitypes.Errorf(wifitypes.KindNotSupported, "cannot associate in %s mode", m.ifi.Type)
	}

	if m.ifi.State != wifitypes.StateIdle {
		return 0, nil, nil, wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot associate while %s", m.ifi.State)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = m.associateTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)

	m.gen++
	m.cancelAuth = cancel
	m.assoc = wifitypes.Association{
		Interface: m.ifi.Index,
		BSS: &wifitypes.BSS{
			BSSID:   p.BSSID,
			SSID:    p.SSID,
			Channel: p.Channel,
		},
	}

	m.setState(wifitypes.StateAuthenticating, wifitypes.Event{BSSID: p.BSSID})

	return m.gen, actx, cancel, nil
}

func (m *Machine) completeAssociate(gen uint64, res *wifitypes.AssociateResult, err error) (*wifitypes.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.ifi.State != wifitypes.StateAuthenticating {
		// Aborted by a deauthentication or by closing the interface, which
		// already reported the transition.
		if m.closed {
			return nil, &wifitypes.Error{Kind: wifitypes.KindInterfaceNotFound}
		}
		return nil, &wifitypes.Error{Kind: wifitypes.KindAuthFailed, Reason: m.assoc.Reason}
	}

	m.cancelAuth = nil
	m.gen++

	if err == nil && (res == nil || res.AID < nl80211.MinAssociationID || res.AID > nl80211.MaxAssociationID) {
		err = &radio.AssociateError{}
	}

	if err != nil {
		werr := associateError(err)
		m.assoc.AID = 0
		m.assoc.Reason = werr.Reason

		m.log.Info("association failed", zap.Error(err))
		m.setState(wifitypes.StateIdle, wifitypes.Event{Status: werr.Kind, Reason: werr.Reason})
		return nil, werr
	}

	if res.BSS != nil {
		bss := *res.BSS
		if bss.SSID == "" {
			bss.SSID = m.assoc.BSS.SSID
		}
		m.assoc.BSS = &bss
	}
	m.assoc.AID = res.AID
	m.assoc.Reason = 0

	m.setState(wifitypes.StateAssociated, wifitypes.Event{BSSID: m.assoc.BSS.BSSID, AID: res.AID})

	a := m.assoc
	a.State = m.ifi.State
	return &a, nil
}

func associateError(err error) *wifitypes.Error {
	var aerr *radio.AssociateError
	switch {
	case errors.As(err, &aerr) && aerr.Auth:
		return &wifitypes.Error{Kind: wifitypes.KindAuthFailed, Reason: aerr.Reason, Err: err}
	case errors.As(err, &aerr):
		return &wifitypes.Error{Kind: wifitypes.KindAssociationFailed, Reason: aerr.Reason, Err: err}
	default:
		// Timeouts and radio errors fail the authentication step.
		return &wifitypes.Error{Kind: wifitypes.KindAuthFailed, Err: err}
	}
}

// Disassociate moves Associated -> Idle at the request of the client.
func (m *Machine) Disassociate(ctx context.Context, reason uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	switch m.ifi.State {
	case wifitypes.StateIdle:
		return nil
	case wifitypes.StateAssociated:
		m.deauthRadio(ctx, reason)
		m.leaveAssociated(ctx, reason, false)
		return nil
	default:
		return wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot disassociate while %s", m.ifi.State)
	}
}

// Deauthenticate moves Authenticating or Associated -> Idle at the request of
// the client. An authentication in progress is aborted.
func (m *Machine) Deauthenticate(ctx context.Context, reason uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}

	switch m.ifi.State {
	case wifitypes.StateIdle:
		return nil
	case wifitypes.StateAuthenticating:
		m.deauthRadio(ctx, reason)
		m.abortAuth(reason, false)
		return nil
	case wifitypes.StateAssociated:
		m.deauthRadio(ctx, reason)
		m.leaveAssociated(ctx, reason, false)
		return nil
	default:
		return wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot deauthenticate while %s", m.ifi.State)
	}
}

// Deauthenticated applies a deauthentication reported by the radio.
func (m *Machine) Deauthenticated(ctx context.Context, reason uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.ifi.State {
	case wifitypes.StateAuthenticating:
		m.abortAuth(reason, true)
	case wifitypes.StateAssociated:
		m.leaveAssociated(ctx, reason, true)
	}
}

func (m *Machine) deauthRadio(ctx context.Context, reason uint16) {
	ctx, cancel := m.radioContext(ctx)
	defer cancel()

	if err := m.p.Deauthenticate(ctx, m.ifi.Index, reason); err != nil {
		m.log.Warn("radio deauthentication failed", zap.Error(err))
	}
}

// abortAuth moves Authenticating -> Idle, cancelling the outstanding attempt.
// m.mu must be held.
func (m *Machine) abortAuth(reason uint16, byPeer bool) {
	if m.cancelAuth != nil {
		m.cancelAuth()
		m.cancelAuth = nil
	}

	m.gen++
	m.assoc.AID = 0
	m.assoc.Reason = reason

	m.setState(wifitypes.StateIdle, wifitypes.Event{
		Status:          wifitypes.KindAuthFailed,
		Reason:          reason,
		Deauthenticated: byPeer,
	})
}

// leaveAssociated moves Associated -> Idle, clearing the association ID and
// every installed key. m.mu must be held.
func (m *Machine) leaveAssociated(ctx context.Context, reason uint16, byPeer bool) {
	var bssid net.HardwareAddr
	if m.assoc.BSS != nil {
		bssid = m.assoc.BSS.BSSID
	}

	m.gen++
	m.assoc.AID = 0
	m.assoc.Reason = reason
	m.clearKeys(ctx)

	m.setState(wifitypes.StateIdle, wifitypes.Event{
		Reason:          reason,
		BSSID:           bssid,
		Deauthenticated: byPeer,
	})
}

// clearKeys removes every key. Radio failures are logged; the local key set
// is always emptied. m.mu must be held.
func (m *Machine) clearKeys(ctx context.Context) {
	if len(m.keys) == 0 {
		return
	}

	ctx, cancel := m.radioContext(ctx)
	defer cancel()

	for _, k := range m.keys {
		if err := m.p.RemoveKey(ctx, m.ifi.Index, k); err != nil {
			m.log.Warn("failed to remove key",
				zap.Int("key_id", k.ID),
				zap.Stringer("key_type", k.Type),
				zap.Error(err))
		}
	}

	m.keys = nil
}

// SetType changes the interface type. Only an Idle interface may change
// type.
func (m *Machine) SetType(ctx context.Context, typ wifitypes.InterfaceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if !typ.Valid() {
		return &wifitypes.Error{Kind: wifitypes.KindMalformedAttribute, Attr: nl80211.AttrIftype}
	}
	if m.ifi.State != wifitypes.StateIdle {
		return wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot change type while %s", m.ifi.State)
	}

	rctx, cancel := m.radioContext(ctx)
	defer cancel()

	if err := m.p.SetInterfaceType(rctx, m.ifi.Index, typ); err != nil {
		return err
	}

	m.ifi.Type = typ
	if typ != wifitypes.InterfaceTypeAP {
		m.beacon = nil
		m.stations = nil
	}

	m.n.Notify(&wifitypes.Event{
		Type:      wifitypes.EventInterfaceChanged,
		Wiphy:     m.ifi.PHY,
		Interface: m.ifi.Index,
		Name:      m.ifi.Name,
		IfType:    typ,
		State:     m.ifi.State,
	})

	return nil
}

// keyState checks that keys may change in the current state.
func (m *Machine) keyState() error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	switch m.ifi.State {
	case wifitypes.StateIdle, wifitypes.StateAssociated:
		return nil
	default:
		return wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot change keys while %s", m.ifi.State)
	}
}

// AddKey installs k, replacing a key with the same identity.
func (m *Machine) AddKey(ctx context.Context, k wifitypes.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.keyState(); err != nil {
		return err
	}

	rctx, cancel := m.radioContext(ctx)
	defer cancel()

	if err := m.p.InstallKey(rctx, m.ifi.Index, k); err != nil {
		return err
	}

	keys := m.keys[:0:0]
	for _, old := range m.keys {
		if !old.Matches(&k) {
			keys = append(keys, old)
		}
	}
	m.keys = append(keys, k)

	return nil
}

// DeleteKey removes the key with k's identity.
func (m *Machine) DeleteKey(ctx context.Context, k wifitypes.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.keyState(); err != nil {
		return err
	}

	i := -1
	for j := range m.keys {
		if m.keys[j].Matches(&k) {
			i = j
			break
		}
	}
	if i < 0 {
		return wifitypes.Errorf(wifitypes.KindNotFound, "key %d (%s)", k.ID, k.Type)
	}

	rctx, cancel := m.radioContext(ctx)
	defer cancel()

	if err := m.p.RemoveKey(rctx, m.ifi.Index, m.keys[i]); err != nil {
		return err
	}

	m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
	return nil
}

// DeleteKeys removes every key.
func (m *Machine) DeleteKeys(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.keyState(); err != nil {
		return err
	}

	m.clearKeys(ctx)
	return nil
}

func (m *Machine) apMode() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if m.ifi.Type != wifitypes.InterfaceTypeAP {
		return wifitypes.Errorf(wifitypes.KindNotSupported, "not an access point: %s", m.ifi.Type)
	}

	return nil
}

// SetBeacon sets the beacon template of an access point.
func (m *Machine) SetBeacon(b wifitypes.Beacon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return err
	}
	if m.ifi.State == wifitypes.StateScanning {
		return wifitypes.Errorf(wifitypes.KindInterfaceBusy, "cannot set beacon while scanning")
	}

	m.beacon = &b
	return nil
}

// Beacon returns the beacon template of an access point, if set.
func (m *Machine) Beacon() (*wifitypes.Beacon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return nil, err
	}
	if m.beacon == nil {
		return nil, wifitypes.Errorf(wifitypes.KindNotFound, "no beacon configured")
	}

	b := *m.beacon
	return &b, nil
}

func (m *Machine) station(mac net.HardwareAddr) int {
	for i, s := range m.stations {
		if s.HardwareAddr.String() == mac.String() {
			return i
		}
	}

	return -1
}

func (m *Machine) aidInUse(aid uint16, except int) bool {
	for i, s := range m.stations {
		if i != except && s.AID == aid {
			return true
		}
	}

	return false
}

// AddStation adds a station to an access point. Association IDs are unique
// per access point.
func (m *Machine) AddStation(s wifitypes.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return err
	}
	if m.station(s.HardwareAddr) >= 0 {
		return wifitypes.Errorf(wifitypes.KindExists, "station %s", s.HardwareAddr)
	}
	if m.aidInUse(s.AID, -1) {
		return wifitypes.Errorf(wifitypes.KindExists, "association ID %d", s.AID)
	}

	m.stations = append(m.stations, s)
	return nil
}

// UpdateStation changes the association ID of a station.
func (m *Machine) UpdateStation(s wifitypes.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return err
	}

	i := m.station(s.HardwareAddr)
	if i < 0 {
		return wifitypes.Errorf(wifitypes.KindNotFound, "station %s", s.HardwareAddr)
	}
	if m.aidInUse(s.AID, i) {
		return wifitypes.Errorf(wifitypes.KindExists, "association ID %d", s.AID)
	}

	m.stations[i].AID = s.AID
	return nil
}

// Station returns one station of an access point.
func (m *Machine) Station(mac net.HardwareAddr) (*wifitypes.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return nil, err
	}

	i := m.station(mac)
	if i < 0 {
		return nil, wifitypes.Errorf(wifitypes.KindNotFound, "station %s", mac)
	}

	s := m.stations[i]
	return &s, nil
}

// Stations returns every station of an access point.
func (m *Machine) Stations() ([]wifitypes.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apMode(); err != nil {
		return nil, err
	}

	return append([]wifitypes.Station(nil), m.stations...), nil
}

// Close tears the interface down: an outstanding scan is aborted, an
// authentication in progress is cancelled, and keys are removed. Close
// reports no transitions; the interface is gone.
func (m *Machine) Close(ctx context.Context) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	abort := m.abortScan
	m.abortScan = nil

	switch m.ifi.State {
	case wifitypes.StateAuthenticating:
		m.abortAuth(0, false)
	case wifitypes.StateAssociated:
		m.deauthRadio(ctx, 0)
		m.leaveAssociated(ctx, 0, false)
	}

	m.clearKeys(ctx)
	m.mu.Unlock()

	// The scan coordinator calls back into FinishScan, so abort without the
	// lock held.
	if abort != nil {
		abort()
	}
}
