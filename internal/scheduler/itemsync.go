package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// DefaultItemSyncDelay is how long a row must stay on screen before it is
// re-synced.
const DefaultItemSyncDelay = 3400 * time.Millisecond

// Syncer re-fetches one item of a feed.
type Syncer interface {
	SyncItem(ctx context.Context, feed model.FeedType, id string) error
}

// ItemSync debounces per-row re-syncs. A pending sync is keyed by the row's
// screen position, so a new row scrolled into the same slot replaces it.
type ItemSync struct {
	Logger *slog.Logger
	Delay  time.Duration

	syncer Syncer
	group  singleflight.Group

	mu      sync.Mutex
	pending map[string]map[int]*pendingSync
}

type pendingSync struct {
	id     string
	timer  *time.Timer
	cancel context.CancelFunc
}

func NewItemSync(logger *slog.Logger, s Syncer, delay time.Duration) *ItemSync {
	if delay <= 0 {
		delay = DefaultItemSyncDelay
	}
	return &ItemSync{
		Logger:  logger.With("component", "scheduler.ItemSync"),
		Delay:   delay,
		syncer:  s,
		pending: make(map[string]map[int]*pendingSync),
	}
}

// Schedule arms a re-sync of id shown at position. Feeds that do not sync
// items are ignored.
func (s *ItemSync) Schedule(feed model.FeedType, position int, id string) {
	if !feed.ShouldSyncItems() || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slots, ok := s.pending[feed.Key()]
	if !ok {
		slots = make(map[int]*pendingSync)
		s.pending[feed.Key()] = slots
	}
	if prev, ok := slots[position]; ok {
		if prev.id == id {
			return
		}
		prev.timer.Stop()
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(Background(context.Background()))
	ps := &pendingSync{id: id, cancel: cancel}
	ps.timer = time.AfterFunc(s.Delay, func() {
		s.run(ctx, feed, position, ps)
	})
	slots[position] = ps
}

func (s *ItemSync) run(ctx context.Context, feed model.FeedType, position int, ps *pendingSync) {
	defer func() {
		s.mu.Lock()
		if slots, ok := s.pending[feed.Key()]; ok && slots[position] == ps {
			delete(slots, position)
		}
		s.mu.Unlock()
		ps.cancel()
	}()
	if ctx.Err() != nil {
		return
	}

	_, err, shared := s.group.Do(feed.Key()+"|"+ps.id, func() (any, error) {
		return nil, s.syncer.SyncItem(ctx, feed, ps.id)
	})
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "error"
		s.Logger.Debug("item sync failed", "feed", feed.Key(), "id", ps.id, "error", err)
	}
	if shared {
		outcome += "_shared"
	}
	metrics.ItemSyncs.WithLabelValues(outcome).Inc()
}

// Cancel drops the pending sync of a screen position.
func (s *ItemSync) Cancel(feed model.FeedType, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slots, ok := s.pending[feed.Key()]; ok {
		if ps, ok := slots[position]; ok {
			ps.timer.Stop()
			ps.cancel()
			delete(slots, position)
		}
	}
}

// CancelFeed drops every pending and in-flight sync of a feed.
func (s *ItemSync) CancelFeed(feed model.FeedType) {
	s.mu.Lock()
	slots := s.pending[feed.Key()]
	delete(s.pending, feed.Key())
	s.mu.Unlock()
	for _, ps := range slots {
		ps.timer.Stop()
		ps.cancel()
	}
}

// CancelAll drops every pending sync.
func (s *ItemSync) CancelAll() {
	s.mu.Lock()
	all := s.pending
	s.pending = make(map[string]map[int]*pendingSync)
	s.mu.Unlock()
	for _, slots := range all {
		for _, ps := range slots {
			ps.timer.Stop()
			ps.cancel()
		}
	}
}

// Pending returns the ids waiting to be synced for a feed by position.
func (s *ItemSync) Pending(feed model.FeedType) map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.pending[feed.Key()]))
	for pos, ps := range s.pending[feed.Key()] {
		out[pos] = ps.id
	}
	return out
}
