//go:build linux
// +build linux

package ctlsock

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/mdlayher/wifictl/internal/dispatch"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// A Handler serves nl80211 requests. *dispatch.Dispatcher implements
// Handler.
type Handler interface {
	Handle(ctx context.Context, m genetlink.Message) ([]genetlink.Message, error)
}

// Config configures a Server.
type Config struct {
	Handler Handler
	Hub     *notify.Hub

	// Rate and Burst limit the requests of each session. A zero Rate
	// disables limiting.
	Rate  float64
	Burst int

	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// A Server serves the control socket.
type Server struct {
	cfg Config
	m   *metrics.Metrics
	log *zap.Logger

	nextPID atomic.Uint32
	wg      sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Server{
		cfg: cfg,
		m:   metrics.OrNew(cfg.Metrics),
		log: cfg.Log,
	}
}

// Listen creates the control socket at path, replacing a stale socket file.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
}

// Serve accepts sessions on l until ctx is canceled, then closes l and waits
// for every session to end.
func (s *Server) Serve(ctx context.Context, l *net.UnixListener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	defer s.wg.Wait()

	for {
		c, err := l.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveSession(ctx, c)
		}()
	}
}

// A session is one client connection.
type session struct {
	s   *Server
	c   *net.UnixConn
	pid uint32
	sub *notify.Subscription
	lim *rate.Limiter
	log *zap.Logger

	// wmu serializes replies and notifications.
	wmu sync.Mutex
}

func (s *Server) serveSession(ctx context.Context, c *net.UnixConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := rate.Inf
	if s.cfg.Rate > 0 {
		limit = rate.Limit(s.cfg.Rate)
	}

	ss := &session{
		s:   s,
		c:   c,
		pid: s.nextPID.Add(1),
		sub: s.cfg.Hub.Subscribe(),
		lim: rate.NewLimiter(limit, s.cfg.Burst),
	}
	ss.log = s.log.With(zap.Uint32("session", ss.pid), zap.Stringer("subscription", ss.sub.ID))

	s.m.Sessions.Inc()
	ss.log.Debug("session opened")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		ss.sub.Close()
		_ = c.Close()
	}()
	go func() {
		defer wg.Done()
		ss.notify()
	}()

	if err := ss.serve(ctx, cancel); err != nil {
		ss.log.Debug("session ended", zap.Error(err))
	}

	cancel()
	wg.Wait()

	s.m.Sessions.Dec()
	ss.log.Debug("session closed")
}

// serve processes requests one at a time until the connection fails. The
// connection is read concurrently so that a requester going away cancels
// the request in flight.
func (ss *session) serve(ctx context.Context, cancel context.CancelFunc) error {
	var (
		reqs = make(chan []netlink.Message)
		errc = make(chan error, 1)
	)

	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Wait()
	defer cancel()

	go func() {
		defer wg.Done()
		errc <- ss.read(ctx, reqs)
		cancel()
	}()

	for {
		var msgs []netlink.Message
		select {
		case err := <-errc:
			return err
		case msgs = <-reqs:
		}

		for _, m := range msgs {
			if err := ss.lim.Wait(ctx); err != nil {
				return err
			}
			if err := ss.request(ctx, m); err != nil {
				return err
			}
		}
	}
}

// read passes each request packet to reqs until the connection fails.
func (ss *session) read(ctx context.Context, reqs chan<- []netlink.Message) error {
	buf := make([]byte, bufferSize)
	for {
		n, err := ss.c.Read(buf)
		if err != nil {
			return err
		}

		msgs, err := parseMessages(buf[:n])
		if err != nil {
			// The packet cannot be answered without a header to echo.
			ss.log.Debug("dropping malformed packet", zap.Error(err))
			continue
		}

		select {
		case reqs <- msgs:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// request serves one netlink message.
func (ss *session) request(ctx context.Context, m netlink.Message) error {
	switch m.Header.Type {
	case unix.GENL_ID_CTRL:
		return ss.control(m)
	case nl80211.FamilyID:
	default:
		if m.Header.Type < unix.NLMSG_MIN_TYPE {
			// Control messages such as NOOP need no answer.
			return nil
		}
		return ss.fail(m, unix.ENOENT, "unknown generic netlink family")
	}

	var gm genetlink.Message
	if err := gm.UnmarshalBinary(m.Data); err != nil {
		return ss.fail(m, unix.EINVAL, err.Error())
	}

	replies, err := ss.s.cfg.Handler.Handle(ctx, gm)
	if err != nil {
		var fr *dispatch.FailureReply
		if errors.As(err, &fr) {
			// The requester learns of a failed transition the same way
			// subscribers do.
			return ss.replies(m, []genetlink.Message{fr.Message})
		}

		return ss.fail(m, Errno(err), err.Error())
	}

	return ss.replies(m, replies)
}

// control serves a request to the generic netlink controller.
func (ss *session) control(m netlink.Message) error {
	r, err := parseControl(m.Data)
	if err != nil {
		return ss.fail(m, unix.EINVAL, err.Error())
	}

	switch r.cmd {
	case unix.CTRL_CMD_GETFAMILY:
		if err := r.family(); err != nil {
			return ss.fail(m, unix.ENOENT, err.Error())
		}

		reply, err := controlMessage(unix.CTRL_CMD_NEWFAMILY, encodeFamily)
		if err != nil {
			return err
		}

		if m.Header.Flags&netlink.Dump == netlink.Dump {
			return ss.multipart(m, []netlink.Message{reply})
		}
		return ss.write(m, reply)
	case unix.CTRL_CMD_NEWMCAST_GRP, unix.CTRL_CMD_DELMCAST_GRP:
		group, ok := nl80211.GroupFromID(r.groupID)
		if !ok {
			return ss.fail(m, unix.EINVAL, "unknown multicast group")
		}

		if r.cmd == unix.CTRL_CMD_NEWMCAST_GRP {
			ss.sub.Join(group)
		} else {
			ss.sub.Leave(group)
		}
		ss.log.Debug("multicast membership changed",
			zap.String("group", nl80211.GroupNames[group]),
			zap.Bool("joined", r.cmd == unix.CTRL_CMD_NEWMCAST_GRP))

		if m.Header.Flags&netlink.Acknowledge != 0 {
			return ss.ack(m)
		}
		return nil
	default:
		return ss.fail(m, unix.EOPNOTSUPP, "unsupported controller command")
	}
}

// replies sends the replies to request m. A request without replies is
// always acknowledged so the requester never waits in vain.
func (ss *session) replies(m netlink.Message, gms []genetlink.Message) error {
	msgs := make([]netlink.Message, 0, len(gms))
	for _, gm := range gms {
		b, err := gm.MarshalBinary()
		if err != nil {
			return err
		}
		msgs = append(msgs, netlink.Message{
			Header: netlink.Header{Type: m.Header.Type},
			Data:   b,
		})
	}

	switch {
	case m.Header.Flags&netlink.Dump == netlink.Dump, len(msgs) > 1:
		return ss.multipart(m, msgs)
	case len(msgs) == 0:
		return ss.ack(m)
	default:
		return ss.write(m, msgs[0])
	}
}

// multipart sends msgs as a multi-part reply, one message per packet.
func (ss *session) multipart(req netlink.Message, msgs []netlink.Message) error {
	for _, m := range msgs {
		m.Header.Flags |= netlink.Multi
		if err := ss.write(req, m); err != nil {
			return err
		}
	}

	done := netlink.Message{
		Header: netlink.Header{Type: netlink.Done, Flags: netlink.Multi},
		Data:   nlenc.Int32Bytes(0),
	}
	return ss.write(req, done)
}

// ack acknowledges request req.
func (ss *session) ack(req netlink.Message) error {
	b, err := frame(req).MarshalBinary()
	if err != nil {
		return err
	}

	return ss.write(req, netlink.Message{
		Header: netlink.Header{Type: netlink.Error},
		Data:   append(nlenc.Int32Bytes(0), b[:headerLen]...),
	})
}

// fail answers request req with errno and an extended acknowledgement
// message.
func (ss *session) fail(req netlink.Message, errno unix.Errno, msg string) error {
	b, err := frame(req).MarshalBinary()
	if err != nil {
		return err
	}

	ae := netlink.NewAttributeEncoder()
	ae.String(unix.NLMSGERR_ATTR_MSG, msg)
	tlvs, err := ae.Encode()
	if err != nil {
		return err
	}

	data := append(nlenc.Int32Bytes(-int32(errno)), b...)
	return ss.write(req, netlink.Message{
		Header: netlink.Header{Type: netlink.Error, Flags: netlink.AcknowledgeTLVs},
		Data:   append(data, tlvs...),
	})
}

// write sends m in reply to req.
func (ss *session) write(req, m netlink.Message) error {
	m.Header.Sequence = req.Header.Sequence
	m.Header.PID = req.Header.PID

	return ss.send(m)
}

func (ss *session) send(m netlink.Message) error {
	b, err := marshalMessages([]netlink.Message{m})
	if err != nil {
		return err
	}

	ss.wmu.Lock()
	defer ss.wmu.Unlock()

	_, err = ss.c.Write(b)
	return err
}

// notify forwards notifications until the subscription is closed.
func (ss *session) notify() {
	for n := range ss.sub.C() {
		b, err := n.Message.MarshalBinary()
		if err != nil {
			ss.log.Warn("failed to marshal notification", zap.Error(err))
			continue
		}

		err = ss.send(netlink.Message{
			Header: netlink.Header{Type: nl80211.FamilyID},
			Data:   b,
		})
		if err != nil {
			ss.log.Debug("failed to send notification", zap.Error(err))
		}
	}
}
