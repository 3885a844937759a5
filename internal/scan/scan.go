// Package scan coordinates asynchronous radio scans.
//
// A scan moves its interface to Scanning and finishes exactly once, by
// whichever comes first of the radio reporting completion, the scan timeout
// firing, or the scan being aborted. Radio callbacks arriving after that are
// counted and discarded.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/radio"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a scan when the Coordinator has no timeout
// configured.
const DefaultTimeout = 10 * time.Second

// Config configures a Coordinator.
type Config struct {
	Provider radio.Provider

	// Timeout bounds each scan; zero means DefaultTimeout.
	Timeout time.Duration

	// RadioTimeout bounds the call starting a scan; zero means
	// vif.DefaultRadioTimeout.
	RadioTimeout time.Duration

	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// A Coordinator runs scans on behalf of interface state machines.
type Coordinator struct {
	p            radio.Provider
	timeout      time.Duration
	radioTimeout time.Duration
	m            *metrics.Metrics
	log          *zap.Logger

	mu    sync.Mutex
	scans map[int]*Scan
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RadioTimeout <= 0 {
		cfg.RadioTimeout = vif.DefaultRadioTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	return &Coordinator{
		p:            cfg.Provider,
		timeout:      cfg.Timeout,
		radioTimeout: cfg.RadioTimeout,
		m:            metrics.OrNew(cfg.Metrics),
		log:          cfg.Log,
		scans:        make(map[int]*Scan),
	}
}

// A Scan is one outstanding scan. It implements radio.ScanHandler.
type Scan struct {
	// ID identifies the scan in logs.
	ID uuid.UUID

	c       *Coordinator
	m       *vif.Machine
	started time.Time

	// done is closed once the scan is settled; bss and err are then final.
	done chan struct{}

	mu    sync.Mutex
	gen   uint64
	over  bool
	bss   []*wifitypes.BSS
	err   error
	timer *time.Timer
}

var _ radio.ScanHandler = &Scan{}

func aborted(err error) error {
	return &wifitypes.Error{Kind: wifitypes.KindScanAborted, Err: err}
}

// Start begins a scan on the interface of m without waiting for results. A
// channel list longer than the radio accepts is refused before the
// interface changes state.
func (c *Coordinator) Start(ctx context.Context, m *vif.Machine, req wifitypes.ScanRequest) (*Scan, error) {
	if len(req.Channels) > nl80211.MaxChannelListItems {
		return nil, wifitypes.Errorf(wifitypes.KindScanListTooLarge,
			"%d channels, at most %d allowed", len(req.Channels), nl80211.MaxChannelListItems)
	}

	s := &Scan{
		ID:      uuid.New(),
		c:       c,
		m:       m,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	// Hold s.mu until the generation is known, so an abort racing with Start
	// finishes the right scan. The scan is registered before the interface
	// changes state, so Cancel finds every scan the machine knows about.
	s.mu.Lock()
	registered := c.register(s)

	gen, err := m.BeginScan(func() { s.finish(aborted(nil)) })
	if err != nil {
		s.over = true
		s.mu.Unlock()
		if registered {
			c.unregister(s)
		}
		return nil, err
	}
	s.gen = gen
	if !registered {
		// A previous scan was still being settled when s was registered.
		c.mu.Lock()
		c.scans[m.Index()] = s
		c.mu.Unlock()
	}
	s.timer = time.AfterFunc(c.timeout, func() {
		s.finish(wifitypes.Errorf(wifitypes.KindScanTimeout, "no results after %s", c.timeout))
	})
	s.mu.Unlock()

	c.log.Debug("scan started",
		zap.Stringer("scan", s.ID),
		zap.Int("ifindex", m.Index()),
		zap.Int("channels", len(req.Channels)))

	rctx, cancel := context.WithTimeout(ctx, c.radioTimeout)
	defer cancel()

	if err := c.p.StartScan(rctx, m.Index(), req, s); err != nil {
		s.finish(aborted(err))
		<-s.done
		return nil, s.err
	}

	return s, nil
}

// register records s as the outstanding scan of its interface unless
// another scan is already recorded there.
func (c *Coordinator) register(s *Scan) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.scans[s.m.Index()]; ok {
		return false
	}
	c.scans[s.m.Index()] = s
	return true
}

// unregister forgets s if it is still the outstanding scan of its interface.
func (c *Coordinator) unregister(s *Scan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.scans[s.m.Index()]; ok && cur == s {
		delete(c.scans, s.m.Index())
	}
}

// Run starts a scan and waits for its results.
func (c *Coordinator) Run(ctx context.Context, m *vif.Machine, req wifitypes.ScanRequest) ([]*wifitypes.BSS, error) {
	s, err := c.Start(ctx, m, req)
	if err != nil {
		return nil, err
	}

	return s.Wait(ctx)
}

// Cancel aborts the outstanding scan on ifindex, if any, and reports whether
// one was aborted.
func (c *Coordinator) Cancel(ifindex int) bool {
	c.mu.Lock()
	s, ok := c.scans[ifindex]
	c.mu.Unlock()

	if !ok {
		return false
	}

	return s.finish(aborted(nil))
}

// Outstanding reports whether a scan is outstanding on ifindex.
func (c *Coordinator) Outstanding(ifindex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.scans[ifindex]
	return ok
}

// Close aborts every outstanding scan.
func (c *Coordinator) Close() {
	c.mu.Lock()
	scans := make([]*Scan, 0, len(c.scans))
	for _, s := range c.scans {
		scans = append(scans, s)
	}
	c.mu.Unlock()

	for _, s := range scans {
		s.finish(aborted(nil))
	}
}

// Wait waits for the scan to settle and returns its results. If ctx is
// cancelled first the scan is aborted.
func (s *Scan) Wait(ctx context.Context) ([]*wifitypes.BSS, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.finish(aborted(ctx.Err()))
		<-s.done
	}

	return s.bss, s.err
}

// Found implements radio.ScanHandler.
func (s *Scan) Found(bss wifitypes.BSS) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.over {
		s.c.m.LateScanResults.Inc()
		return
	}

	if bss.SSID == "" {
		bss.SSID = wifitypes.SSIDFromIEs(bss.IEs)
	}
	s.bss = append(s.bss, &bss)
}

// Done implements radio.ScanHandler.
func (s *Scan) Done(err error) {
	if err != nil && wifitypes.KindOf(err) == 0 {
		err = aborted(err)
	}

	if !s.finish(err) {
		s.c.m.LateScanResults.Inc()
	}
}

// finish settles the scan with err and reports whether this call was the one
// to do so.
func (s *Scan) finish(err error) bool {
	s.mu.Lock()
	if s.over {
		s.mu.Unlock()
		return false
	}
	s.over = true
	if s.timer != nil {
		s.timer.Stop()
	}
	bss := s.bss
	gen := s.gen
	s.mu.Unlock()

	c := s.c
	c.unregister(s)

	outcome := "ok"
	if err != nil {
		bss = nil
		switch wifitypes.KindOf(err) {
		case wifitypes.KindScanTimeout:
			outcome = "timeout"
		default:
			outcome = "aborted"
		}
	}
	c.m.Scans.WithLabelValues(outcome).Inc()

	applied := s.m.FinishScan(gen, bss, err)

	s.mu.Lock()
	s.bss = bss
	s.err = err
	s.mu.Unlock()
	close(s.done)

	c.log.Debug("scan finished",
		zap.Stringer("scan", s.ID),
		zap.Int("ifindex", s.m.Index()),
		zap.String("outcome", outcome),
		zap.Int("results", len(bss)),
		zap.Duration("elapsed", time.Since(s.started)),
		zap.Bool("applied", applied))

	return true
}
