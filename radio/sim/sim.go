// Package sim implements a simulated radio.Provider.
//
// The simulator hosts a fixed set of wiphys and access points. It is used by
// wifid when no hardware backend is configured and by tests throughout the
// module.
package sim

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/radio"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

var _ radio.Provider = &Provider{}

// A Network is a simulated access point.
type Network struct {
	SSID         string            `mapstructure:"ssid"`
	BSSID        net.HardwareAddr  `mapstructure:"-"`
	BSSIDString  string            `mapstructure:"bssid"`
	Channel      int               `mapstructure:"channel"`
	PHYMode      wifitypes.PHYMode `mapstructure:"phy_mode"`
	BeaconPeriod uint16            `mapstructure:"beacon_period"`
	DTIMPeriod   uint8             `mapstructure:"dtim_period"`

	// RefuseAuth and RefuseAssoc, when non-zero, are the 802.11 reason
	// codes with which the access point rejects authentication or
	// association.
	RefuseAuth  uint16 `mapstructure:"refuse_auth"`
	RefuseAssoc uint16 `mapstructure:"refuse_assoc"`
}

// A Config configures a Provider.
type Config struct {
	// Wiphys are the radios present at startup. A wiphy with an empty
	// command set supports every command.
	Wiphys []wifitypes.Wiphy

	Networks []Network

	// ScanDelay is how long a scan takes to report results.
	ScanDelay time.Duration

	// HoldScans keeps scans outstanding until ReleaseScans is called.
	HoldScans bool

	// AssociateDelay is how long an association attempt takes.
	AssociateDelay time.Duration

	Logger *zap.Logger
}

// AllCommands is the command set of a wiphy supporting every request.
var AllCommands = func() wifitypes.CommandSet {
	var s wifitypes.CommandSet
	for c := nl80211.CmdUnspec + 1; c <= nl80211.CmdMax; c++ {
		s = s.Add(uint8(c))
	}
	return s
}()

type pendingScan struct {
	ifindex int
	req     wifitypes.ScanRequest
	h       radio.ScanHandler
}

// A Provider is a simulated radio.Provider. It is safe for concurrent use.
type Provider struct {
	cfg Config
	log *zap.Logger

	events chan radio.Event

	mu      sync.Mutex
	wiphys  map[int]wifitypes.Wiphy
	ifaces  map[int]*wifitypes.Interface
	nextIdx int
	aids    map[string]map[uint16]int
	joined  map[int]joined
	keys    map[int][]wifitypes.Key
	pending []pendingScan
	closed  bool
}

type joined struct {
	bssid string
	aid   uint16
}

// New creates a Provider from cfg.
func New(cfg Config) *Provider {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Provider{
		cfg:     cfg,
		log:     log.Named("sim"),
		events:  make(chan radio.Event, 16),
		wiphys:  make(map[int]wifitypes.Wiphy),
		ifaces:  make(map[int]*wifitypes.Interface),
		nextIdx: 3,
		aids:    make(map[string]map[uint16]int),
		joined:  make(map[int]joined),
		keys:    make(map[int][]wifitypes.Key),
	}

	p.cfg.Wiphys = append([]wifitypes.Wiphy(nil), cfg.Wiphys...)
	p.cfg.Networks = append([]Network(nil), cfg.Networks...)

	for i, w := range p.cfg.Wiphys {
		if w.Commands == 0 {
			w.Commands = AllCommands
		}
		p.wiphys[w.Index] = w
		p.cfg.Wiphys[i] = w
	}

	for i := range p.cfg.Networks {
		n := &p.cfg.Networks[i]
		if n.BSSID == nil && n.BSSIDString != "" {
			if mac, err := net.ParseMAC(n.BSSIDString); err == nil {
				n.BSSID = mac
			}
		}
		if n.BeaconPeriod == 0 {
			n.BeaconPeriod = 100
		}
		if n.DTIMPeriod == 0 {
			n.DTIMPeriod = 2
		}
	}

	return p
}

// Close closes the event channel and fails any held scans.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, s := range pending {
		s.h.Done(fmt.Errorf("sim: provider closed"))
	}
	close(p.events)
	return nil
}

// Wiphys implements radio.Provider.
func (p *Provider) Wiphys(ctx context.Context) ([]wifitypes.Wiphy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ws := make([]wifitypes.Wiphy, 0, len(p.wiphys))
	for _, w := range p.cfg.Wiphys {
		if _, ok := p.wiphys[w.Index]; ok {
			ws = append(ws, p.wiphys[w.Index])
		}
	}

	return ws, ctx.Err()
}

// CreateInterface implements radio.Provider.
func (p *Provider) CreateInterface(ctx context.Context, wiphy int, typ wifitypes.InterfaceType, name string) (*wifitypes.Interface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.wiphys[wiphy]; !ok {
		return nil, wifitypes.ErrWiphyNotFound
	}

	idx := p.nextIdx
	p.nextIdx++

	ifi := &wifitypes.Interface{
		Index:        idx,
		Name:         name,
		HardwareAddr: net.HardwareAddr{0x02, 0x00, 0x00, byte(wiphy), byte(idx >> 8), byte(idx)},
		PHY:          wiphy,
		Type:         typ,
	}
	p.ifaces[idx] = ifi

	p.log.Debug("created interface",
		zap.Int("wiphy", wiphy),
		zap.Int("ifindex", idx),
		zap.String("name", name),
		zap.Stringer("type", typ))

	cp := *ifi
	return &cp, nil
}

// DestroyInterface implements radio.Provider.
func (p *Provider) DestroyInterface(ctx context.Context, ifindex int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ifaces[ifindex]; !ok {
		return wifitypes.ErrInterfaceNotFound
	}

	p.leaveLocked(ifindex)
	delete(p.ifaces, ifindex)
	delete(p.keys, ifindex)
	return ctx.Err()
}

// SetInterfaceType implements radio.Provider.
func (p *Provider) SetInterfaceType(ctx context.Context, ifindex int, typ wifitypes.InterfaceType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ifi, ok := p.ifaces[ifindex]
	if !ok {
		return wifitypes.ErrInterfaceNotFound
	}

	ifi.Type = typ
	return ctx.Err()
}

// StartScan implements radio.Provider.
func (p *Provider) StartScan(ctx context.Context, ifindex int, req wifitypes.ScanRequest, h radio.ScanHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ifaces[ifindex]; !ok {
		return wifitypes.ErrInterfaceNotFound
	}
	if p.closed {
		return fmt.Errorf("sim: provider closed")
	}

	s := pendingScan{ifindex: ifindex, req: req, h: h}
	if p.cfg.HoldScans {
		p.pending = append(p.pending, s)
		return nil
	}

	go func() {
		time.Sleep(p.cfg.ScanDelay)
		p.report(s)
	}()

	return nil
}

// ReleaseScans completes every held scan and reports how many were released.
func (p *Provider) ReleaseScans() int {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, s := range pending {
		p.report(s)
	}

	return len(pending)
}

func (p *Provider) report(s pendingScan) {
	for _, n := range p.cfg.Networks {
		if !onChannels(n, s.req.Channels) {
			continue
		}

		p.log.Debug("found network",
			zap.Int("ifindex", s.ifindex),
			zap.String("ssid", n.SSID),
			zap.Int("channel", n.Channel))

		s.h.Found(wifitypes.BSS{
			BSSID:        n.BSSID,
			SSID:         n.SSID,
			Type:         wifitypes.BSSTypeInfrastructure,
			Channel:      n.Channel,
			BeaconPeriod: n.BeaconPeriod,
			DTIMPeriod:   n.DTIMPeriod,
			LastSeen:     uint64(time.Now().UnixMicro()),
			IEs:          append([]byte{wifitypes.IESSID, byte(len(n.SSID))}, n.SSID...),
		})
	}

	s.h.Done(nil)
}

func onChannels(n Network, chans []wifitypes.Channel) bool {
	if len(chans) == 0 {
		return true
	}

	for _, c := range chans {
		if c.Number == n.Channel {
			return true
		}
	}

	return false
}

// Associate implements radio.Provider.
func (p *Provider) Associate(ctx context.Context, ifindex int, params wifitypes.AssociateParams) (*wifitypes.AssociateResult, error) {
	if p.cfg.AssociateDelay > 0 {
		t := time.NewTimer(p.cfg.AssociateDelay)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ifaces[ifindex]; !ok {
		return nil, wifitypes.ErrInterfaceNotFound
	}

	n, ok := p.lookup(params)
	if !ok {
		// No access point answered: unspecified reason.
		return nil, &radio.AssociateError{Auth: true, Reason: 1}
	}
	if n.RefuseAuth != 0 {
		return nil, &radio.AssociateError{Auth: true, Reason: n.RefuseAuth}
	}
	if n.RefuseAssoc != 0 {
		return nil, &radio.AssociateError{Reason: n.RefuseAssoc}
	}

	p.leaveLocked(ifindex)

	key := n.BSSID.String()
	used := p.aids[key]
	if used == nil {
		used = make(map[uint16]int)
		p.aids[key] = used
	}

	var aid uint16
	for id := uint16(nl80211.MinAssociationID); id <= nl80211.MaxAssociationID; id++ {
		if _, ok := used[id]; !ok {
			aid = id
			break
		}
	}
	if aid == 0 {
		// AP association table full: denied, too many stations.
		return nil, &radio.AssociateError{Reason: 17}
	}

	used[aid] = ifindex
	p.joined[ifindex] = joined{bssid: key, aid: aid}

	return &wifitypes.AssociateResult{
		AID: aid,
		BSS: &wifitypes.BSS{
			BSSID:        n.BSSID,
			SSID:         n.SSID,
			Type:         wifitypes.BSSTypeInfrastructure,
			Channel:      n.Channel,
			BeaconPeriod: n.BeaconPeriod,
			DTIMPeriod:   n.DTIMPeriod,
		},
	}, nil
}

func (p *Provider) lookup(params wifitypes.AssociateParams) (Network, bool) {
	for _, n := range p.cfg.Networks {
		if n.SSID != params.SSID {
			continue
		}
		if params.BSSID != nil && n.BSSID.String() != params.BSSID.String() {
			continue
		}
		if params.Channel != 0 && n.Channel != params.Channel {
			continue
		}

		return n, true
	}

	return Network{}, false
}

func (p *Provider) leaveLocked(ifindex int) {
	j, ok := p.joined[ifindex]
	if !ok {
		return
	}

	delete(p.aids[j.bssid], j.aid)
	delete(p.joined, ifindex)
}

// Deauthenticate implements radio.Provider.
func (p *Provider) Deauthenticate(ctx context.Context, ifindex int, reason uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.leaveLocked(ifindex)
	return ctx.Err()
}

// InstallKey implements radio.Provider.
func (p *Provider) InstallKey(ctx context.Context, ifindex int, k wifitypes.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ifaces[ifindex]; !ok {
		return wifitypes.ErrInterfaceNotFound
	}

	keys := p.keys[ifindex][:0:0]
	for _, old := range p.keys[ifindex] {
		if !old.Matches(&k) {
			keys = append(keys, old)
		}
	}
	p.keys[ifindex] = append(keys, k)

	return ctx.Err()
}

// RemoveKey implements radio.Provider.
func (p *Provider) RemoveKey(ctx context.Context, ifindex int, k wifitypes.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.keys[ifindex][:0:0]
	for _, old := range p.keys[ifindex] {
		if !old.Matches(&k) {
			keys = append(keys, old)
		}
	}
	p.keys[ifindex] = keys

	return ctx.Err()
}

// Keys returns the keys the simulated hardware holds for an interface.
func (p *Provider) Keys(ifindex int) []wifitypes.Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]wifitypes.Key(nil), p.keys[ifindex]...)
}

// Events implements radio.Provider.
func (p *Provider) Events() <-chan radio.Event { return p.events }

// Deauthenticated simulates the access point deauthenticating an interface.
func (p *Provider) Deauthenticated(ifindex int, reason uint16) {
	p.mu.Lock()
	p.leaveLocked(ifindex)
	p.mu.Unlock()

	p.events <- radio.Event{
		Type:      radio.EventDeauthenticated,
		Interface: ifindex,
		Reason:    reason,
	}
}

// AddWiphy simulates a radio being plugged in.
func (p *Provider) AddWiphy(w wifitypes.Wiphy) {
	if w.Commands == 0 {
		w.Commands = AllCommands
	}

	p.mu.Lock()
	p.wiphys[w.Index] = w
	p.cfg.Wiphys = append(p.cfg.Wiphys, w)
	p.mu.Unlock()

	p.events <- radio.Event{Type: radio.EventWiphyAdded, Wiphy: w}
}

// RemoveWiphy simulates a radio being unplugged. Its interfaces disappear
// with it.
func (p *Provider) RemoveWiphy(index int) {
	p.mu.Lock()
	w, ok := p.wiphys[index]
	delete(p.wiphys, index)
	for idx, ifi := range p.ifaces {
		if ifi.PHY == index {
			p.leaveLocked(idx)
			delete(p.ifaces, idx)
			delete(p.keys, idx)
		}
	}
	p.mu.Unlock()

	if ok {
		p.events <- radio.Event{Type: radio.EventWiphyRemoved, Wiphy: w}
	}
}
