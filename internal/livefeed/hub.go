package livefeed

import (
	"sync"

	"github.com/kingrea/looptrack/internal/race"
)

const defaultSubscriberCapacity = 16

// Update kinds. Phase changes are never dropped in favour of a routine update.
const (
	KindUpdate = "update"
	KindPhase  = "phase"
)

// Update is one push to spectators.
type Update struct {
	Seq     int64       `json:"seq"`
	Kind    string      `json:"kind"`
	Session SessionView `json:"session"`
}

// HubOption customizes Hub construction.
type HubOption func(*Hub)

// HubWithSubscriberCapacity overrides the buffered channel size per subscriber.
func HubWithSubscriberCapacity(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// HubWithLogger reports dropped updates.
func HubWithLogger(l Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub fans session changes out to stream subscribers. Slow subscribers lose
// routine updates rather than blocking the operator.
type Hub struct {
	course   race.Course
	capacity int
	logger   Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	last        *Update
	seq         int64
}

// NewHub builds a hub computing distances with course.
func NewHub(course race.Course, opts ...HubOption) *Hub {
	h := &Hub{
		course:      course,
		capacity:    defaultSubscriberCapacity,
		logger:      nopLogger{},
		subscribers: map[*subscriber]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscription is an open stream of updates.
type Subscription struct {
	Updates <-chan Update
	cancel  func()
}

// Close ends the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe opens a stream. The latest update, if any, is delivered first
// and nothing newer can overtake it.
func (h *Hub) Subscribe() Subscription {
	sub := newSubscriber(h.capacity, h.logger)
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	if h.last != nil {
		sub.deliver(*h.last)
	}
	h.mu.Unlock()
	return Subscription{
		Updates: sub.ch,
		cancel: func() {
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
			sub.close()
		},
	}
}

// Observe publishes a snapshot. It matches checkpoint.WithObserver.
// Delivery happens under the hub lock so every subscriber sees updates in
// sequence order; deliver never blocks.
func (h *Hub) Observe(snap race.Snapshot) {
	view := View(snap, h.course)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	update := Update{Seq: h.seq, Kind: KindUpdate, Session: view}
	if h.last == nil || h.last.Session.Phase != view.Phase || h.last.Session.RunID != view.RunID {
		update.Kind = KindPhase
	}
	h.last = &update
	for sub := range h.subscribers {
		sub.deliver(update)
	}
}

// Subscribers reports how many streams are open.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

type subscriber struct {
	ch     chan Update
	logger Logger

	mu     sync.Mutex
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan Update, capacity), logger: logger}
}

// deliver never blocks. On overflow the oldest routine update is dropped.
// A phase change is dropped only when the queue holds nothing else, and then
// the oldest one goes.
func (s *subscriber) deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- u:
		return
	default:
	}
	queued := make([]Update, 0, cap(s.ch)+1)
drain:
	for {
		select {
		case q := <-s.ch:
			queued = append(queued, q)
		default:
			break drain
		}
	}
	queued = append(queued, u)
	if len(queued) > cap(s.ch) {
		drop := oldestRoutine(queued)
		if drop < 0 {
			drop = 0
			s.logger.Printf("livefeed: dropped phase update %d (queue holds only phase updates)", queued[drop].Seq)
		} else {
			s.logger.Printf("livefeed: dropped update %d (queue full)", queued[drop].Seq)
		}
		queued = append(queued[:drop], queued[drop+1:]...)
	}
	for _, q := range queued {
		s.ch <- q
	}
}

func oldestRoutine(queued []Update) int {
	for i, q := range queued {
		if q.Kind != KindPhase {
			return i
		}
	}
	return -1
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
