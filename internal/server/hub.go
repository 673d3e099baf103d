package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// DefaultSubscriberBuffer is the number of descriptors a client may lag
// behind before it is disconnected.
const DefaultSubscriberBuffer = 64

type subscriber struct {
	mu     sync.Mutex
	ch     chan model.UpdateDescriptor
	closed bool
}

// offer hands d to the client. A full buffer closes the subscription; the
// client reconnects and reloads the working set.
func (s *subscriber) offer(d model.UpdateDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- d:
		return true
	default:
		s.closed = true
		close(s.ch)
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans committed updates out to connected clients. Present never
// blocks, so it is safe to call with a feed locked.
type Hub struct {
	Logger *slog.Logger

	buffer int
	subs   *xsync.MapOf[string, *subscriber]
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		Logger: logger.With("component", "server.Hub"),
		buffer: buffer,
		subs:   xsync.NewMapOf[string, *subscriber](),
	}
}

// Present implements feed.Presenter.
func (h *Hub) Present(d model.UpdateDescriptor) {
	h.subs.Range(func(id string, s *subscriber) bool {
		if !s.offer(d) {
			if _, ok := h.subs.LoadAndDelete(id); ok {
				metrics.Subscribers.Dec()
				metrics.DroppedSubscribers.Inc()
				h.Logger.Warn("dropping slow subscriber", "id", id)
			}
		}
		return true
	})
}

// Subscribe returns a channel of descriptors and a function that ends the
// subscription. The channel is closed when the subscriber falls behind.
func (h *Hub) Subscribe() (<-chan model.UpdateDescriptor, func()) {
	id := uuid.NewString()
	s := &subscriber{ch: make(chan model.UpdateDescriptor, h.buffer)}
	h.subs.Store(id, s)
	metrics.Subscribers.Inc()
	return s.ch, func() {
		if _, ok := h.subs.LoadAndDelete(id); ok {
			metrics.Subscribers.Dec()
		}
		s.close()
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	return h.subs.Size()
}
