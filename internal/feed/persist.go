package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// persister writes snapshots off the mutation path. Only the latest
// snapshot of each feed is kept while a write is pending.
type persister struct {
	logger *slog.Logger
	store  Store

	// writeMu orders store writes against deletions.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]pendingSnapshot
	wake    chan struct{}
}

type pendingSnapshot struct {
	account string
	snap    model.FeedSnapshot
}

func newPersister(logger *slog.Logger, store Store) *persister {
	return &persister{
		logger:  logger.With("component", "feed.persister"),
		store:   store,
		pending: make(map[string]pendingSnapshot),
		wake:    make(chan struct{}, 1),
	}
}

func (p *persister) enqueue(account string, snap model.FeedSnapshot) {
	p.mu.Lock()
	p.pending[account+"|"+snap.Feed.Key()] = pendingSnapshot{account: account, snap: snap}
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// forget drops the pending and stored snapshot of a feed.
func (p *persister) forget(account string, feed model.FeedType) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.mu.Lock()
	delete(p.pending, account+"|"+feed.Key())
	p.mu.Unlock()
	if err := p.store.DeleteSnapshot(account, feed); err != nil {
		p.logger.Warn("delete snapshot failed", "feed", feed.Key(), "error", err)
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			_ = p.flush()
		}
	}
}

// flush writes every pending snapshot.
func (p *persister) flush() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]pendingSnapshot)
	p.mu.Unlock()

	var errs []error
	for _, ps := range batch {
		if err := p.store.SaveSnapshot(ps.account, ps.snap); err != nil {
			metrics.SnapshotWrites.WithLabelValues("error").Inc()
			p.logger.Warn("save snapshot failed", "feed", ps.snap.Feed.Key(), "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.SnapshotWrites.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}
