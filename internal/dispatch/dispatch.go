// Package dispatch routes nl80211 requests to the device registry, the
// interface state machines and the scan coordinator.
//
// Every request is decoded, checked against its command policy and only then
// routed, so a request rejected for a missing or malformed attribute never
// has side effects.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/registry"
	"github.com/mdlayher/wifictl/internal/scan"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/radio"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// Config configures a Dispatcher.
type Config struct {
	Registry *registry.Registry
	Scans    *scan.Coordinator

	// Events, if set, is drained by Run.
	Events <-chan radio.Event

	// Strict rejects attributes unknown to the protocol or not accepted by
	// the command, instead of ignoring them.
	Strict bool

	// MaxDepth bounds attribute nesting; zero means the codec default.
	MaxDepth int

	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// A Dispatcher serves nl80211 requests.
type Dispatcher struct {
	reg    *registry.Registry
	scans  *scan.Coordinator
	events <-chan radio.Event
	strict bool
	dec    *nlattr.Decoder
	m      *metrics.Metrics
	log    *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	return &Dispatcher{
		reg:    cfg.Registry,
		scans:  cfg.Scans,
		events: cfg.Events,
		strict: cfg.Strict,
		dec: &nlattr.Decoder{
			Strict:   cfg.Strict,
			MaxType:  nl80211.AttrMax,
			MaxDepth: cfg.MaxDepth,
		},
		m:   metrics.OrNew(cfg.Metrics),
		log: cfg.Log,
	}
}

// Decoder returns the attribute decoder requests are decoded with.
func (d *Dispatcher) Decoder() *nlattr.Decoder { return d.dec }

// A request is one decoded request.
type request struct {
	ctx   context.Context
	cmd   nl80211.Command
	attrs []nlattr.Attribute
}

// A FailureReply is returned by Handle when a state machine transition
// failed. Message is the reply for the requester: it carries the same status
// and reason code as the notification broadcast for the transition.
type FailureReply struct {
	Message genetlink.Message
	Err     error
}

// Error implements error.
func (f *FailureReply) Error() string { return f.Err.Error() }

// Unwrap returns the underlying *wifitypes.Error.
func (f *FailureReply) Unwrap() error { return f.Err }

// Handle serves one request message and returns its reply messages. A nil
// slice with a nil error means the request only needs an acknowledgement.
//
// Errors are *wifitypes.Error values carrying the request command, or a
// *FailureReply for failed transitions.
func (d *Dispatcher) Handle(ctx context.Context, msg genetlink.Message) ([]genetlink.Message, error) {
	start := time.Now()
	cmd := nl80211.Command(msg.Header.Command)

	msgs, err := d.handle(ctx, cmd, msg.Data)
	err = withCommand(err, cmd)

	result := "ok"
	if err != nil {
		result = "error"
		if k := wifitypes.KindOf(err); k != 0 {
			result = k.String()
		}

		d.log.Debug("request failed",
			zap.Stringer("command", cmd),
			zap.Error(err))
	}

	// Unsupported commands are counted under a single label so clients
	// cannot grow the label set.
	label := cmd.String()
	if _, ok := policies[cmd]; !ok {
		label = "unknown"
	}
	d.m.Requests.WithLabelValues(label, result).Inc()
	d.m.Latency.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return msgs, err
}

func (d *Dispatcher) handle(ctx context.Context, cmd nl80211.Command, b []byte) ([]genetlink.Message, error) {
	p, ok := policies[cmd]
	if !ok {
		return nil, &wifitypes.Error{Kind: wifitypes.KindUnsupportedCommand}
	}

	attrs, err := d.dec.Decode(b)
	if err != nil {
		return nil, wire.AttrError(0, err)
	}

	if err := p.validate(attrs, d.strict); err != nil {
		return nil, err
	}

	r := &request{ctx: ctx, cmd: cmd, attrs: attrs}
	if err := d.checkSupported(r); err != nil {
		return nil, err
	}

	msgs, err := p.handle(d, r)
	if err != nil {
		if k := wifitypes.KindOf(err); k.Transition() {
			return nil, failureReply(r, err)
		}
		return nil, err
	}

	return msgs, nil
}

// checkSupported verifies the wiphy targeted by r supports its command.
func (d *Dispatcher) checkSupported(r *request) error {
	var (
		w   wifitypes.Wiphy
		err error
	)

	_, hasIfindex := nlattr.Find(r.attrs, nl80211.AttrIfindex)
	_, hasWiphy := nlattr.Find(r.attrs, nl80211.AttrWiphy)

	switch {
	case hasIfindex && r.cmd != nl80211.CmdAddVirtualInterface:
		ifindex, ierr := wire.Ifindex(r.attrs)
		if ierr != nil {
			return ierr
		}
		w, err = d.reg.WiphyOf(ifindex)
	case hasWiphy:
		idx, ierr := wire.WiphyIndex(r.attrs)
		if ierr != nil {
			return ierr
		}
		w, err = d.reg.Wiphy(idx)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if !w.Commands.Has(uint8(r.cmd)) {
		return wifitypes.Errorf(wifitypes.KindNotSupported, "%s not supported by wiphy %s", r.cmd, w.Name)
	}

	return nil
}

// failureReply builds the reply for a failed transition on the interface of
// r.
func failureReply(r *request, err error) error {
	var werr *wifitypes.Error
	if !errors.As(err, &werr) {
		return err
	}

	ifindex, _ := wire.Ifindex(r.attrs)

	prev := wifitypes.StateAuthenticating
	switch werr.Kind {
	case wifitypes.KindScanTimeout, wifitypes.KindScanAborted:
		prev = wifitypes.StateScanning
	}

	msg, merr := wire.EncodeEvent(&wifitypes.Event{
		Type:      wifitypes.EventStateChanged,
		Interface: ifindex,
		State:     wifitypes.StateIdle,
		Previous:  prev,
		Status:    werr.Kind,
		Reason:    werr.Reason,
	})
	if merr != nil {
		return err
	}

	return &FailureReply{Message: msg, Err: err}
}

// withCommand returns err with the command identifier set. Errors are copied
// rather than modified since they may be shared.
func withCommand(err error, cmd nl80211.Command) error {
	if err == nil {
		return nil
	}

	var fr *FailureReply
	if errors.As(err, &fr) {
		return &FailureReply{Message: fr.Message, Err: withCommand(fr.Err, cmd)}
	}

	var werr *wifitypes.Error
	if !errors.As(err, &werr) || werr.Command != 0 {
		return err
	}

	cp := *werr
	cp.Command = uint8(cmd)
	return &cp
}

// Run applies unsolicited radio events until ctx is canceled or the event
// channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.events == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.events:
			if !ok {
				return nil
			}
			d.apply(ctx, ev)
		}
	}
}

func (d *Dispatcher) apply(ctx context.Context, ev radio.Event) {
	switch ev.Type {
	case radio.EventDeauthenticated:
		m, err := d.reg.Interface(ev.Interface)
		if err != nil {
			d.log.Debug("deauthentication for unknown interface", zap.Int("ifindex", ev.Interface))
			return
		}
		m.Deauthenticated(ctx, ev.Reason)
	case radio.EventWiphyAdded:
		d.reg.AddWiphy(ev.Wiphy)
	case radio.EventWiphyRemoved:
		if err := d.reg.RemoveWiphy(ctx, ev.Wiphy.Index); err != nil {
			d.log.Warn("failed to remove wiphy", zap.Int("wiphy", ev.Wiphy.Index), zap.Error(err))
		}
	default:
		d.log.Warn("unknown radio event", zap.Int("type", int(ev.Type)))
	}
}
