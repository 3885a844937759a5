// Package notify fans notifications out to subscribers of multicast groups.
//
// Delivery is at-most-once with no replay: a subscription only sees events
// published while it is joined to the event's group. Publishing never
// blocks. Each subscription owns a bounded queue; when it is full the oldest
// queued notification is discarded to make room for the newest.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/wifictl/internal/metrics"
	"github.com/mdlayher/wifictl/internal/nl80211"
	"github.com/mdlayher/wifictl/internal/wire"
	"github.com/mdlayher/wifictl/wifitypes"
	"go.uber.org/zap"
)

// DefaultQueueLen is the subscription queue length used when a Hub is
// created with a non-positive length.
const DefaultQueueLen = 64

// A Notification is one published event, both decoded and encoded.
type Notification struct {
	Group   int
	Event   *wifitypes.Event
	Message genetlink.Message
}

// A Hub distributes notifications to subscriptions.
type Hub struct {
	queueLen int
	log      *zap.Logger
	m        *metrics.Metrics

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewHub creates a Hub whose subscriptions queue at most queueLen
// notifications. m and log may be nil.
func NewHub(queueLen int, m *metrics.Metrics, log *zap.Logger) *Hub {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		queueLen: queueLen,
		log:      log,
		m:        metrics.OrNew(m),
		subs:     make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a subscription joined to groups.
func (h *Hub) Subscribe(groups ...int) *Subscription {
	s := &Subscription{
		ID:     uuid.New(),
		h:      h,
		groups: make(map[int]bool),
		c:      make(chan Notification, h.queueLen),
	}
	for _, g := range groups {
		s.groups[g] = true
	}

	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()

	h.log.Debug("subscribed", zap.Stringer("subscription", s.ID), zap.Ints("groups", groups))
	return s
}

// Len returns the number of registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish encodes ev and queues it for every subscription joined to its
// group. An event which cannot be encoded is logged and dropped.
func (h *Hub) Publish(ev *wifitypes.Event) {
	msg, err := wire.EncodeEvent(ev)
	if err != nil {
		h.log.Error("failed to encode notification", zap.Stringer("event", ev.Type), zap.Error(err))
		return
	}

	group := wire.EventGroup(ev)
	ev.Group = nl80211.GroupNames[group]

	n := Notification{Group: group, Event: ev, Message: msg}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	h.m.Notifications.WithLabelValues(ev.Group).Inc()

	for _, s := range subs {
		if s.deliver(n) {
			h.m.Dropped.WithLabelValues(ev.Group).Inc()
		}
	}
}

// Notify publishes ev, so a Hub can be handed to components which report
// state changes.
func (h *Hub) Notify(ev *wifitypes.Event) { h.Publish(ev) }

// A Subscription receives notifications for the groups it has joined.
type Subscription struct {
	ID uuid.UUID

	h       *Hub
	dropped atomic.Uint64

	mu     sync.Mutex
	groups map[int]bool
	c      chan Notification
	closed bool
}

// C returns the channel notifications are delivered on. It is closed by
// Close.
func (s *Subscription) C() <-chan Notification { return s.c }

// Join adds group to the subscription.
func (s *Subscription) Join(group int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group] = true
}

// Leave removes group from the subscription.
func (s *Subscription) Leave(group int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, group)
}

// Joined reports whether the subscription is joined to group.
func (s *Subscription) Joined(group int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[group]
}

// Dropped returns the number of notifications discarded because the queue
// was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.h.mu.Lock()
	delete(s.h.subs, s.ID)
	s.h.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.c)
}

// deliver queues n without blocking and reports whether an older
// notification was dropped to make room.
func (s *Subscription) deliver(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.groups[n.Group] {
		return false
	}

	// The receiver only ever drains the queue, so with s.mu held a single
	// eviction always makes room.
	var dropped bool
	for {
		select {
		case s.c <- n:
			return dropped
		default:
		}

		select {
		case <-s.c:
			dropped = true
			s.dropped.Add(1)
		default:
		}
	}
}
