package feed

import (
	"context"
	"sync"
	"time"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/scheduler"
	"github.com/bryan-buckman/feedsync/internal/snapshot"
)

// owner is the single writer of one feed. mu guards the working set and
// the last emitted rows; seq orders fetch commits.
type owner struct {
	feed model.FeedType
	seq  sequencer

	mu     sync.Mutex
	ws     workingSet
	prev   []snapshot.Entry
	ctx    context.Context
	cancel context.CancelFunc
}

func newOwner(feed model.FeedType) *owner {
	ctx, cancel := context.WithCancel(context.Background())
	return &owner{feed: feed, ctx: ctx, cancel: cancel}
}

// opContext derives the context of one operation: it ends when the caller
// gives up or when the feed's in-flight work is cancelled.
func (o *owner) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	o.mu.Lock()
	scope := o.ctx
	o.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(scope, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// cancelInFlight aborts every operation started so far. Later operations
// run normally.
func (o *owner) cancelInFlight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(context.Background())
}

// change describes one mutation for emit.
type change struct {
	typ      model.UpdateType
	inserted []model.ListItem
	// threshold is the unread threshold for inserted rows; negative skips
	// unread accounting.
	threshold  int
	background bool
}

func backgroundOf(ctx context.Context) bool {
	return scheduler.IsBackground(ctx)
}

// emit resolves display metrics, diffs the list against the previous
// emission and hands the descriptor to the presentation boundary. Called
// with o.mu held. It reports whether anything was emitted; a hydrate is
// always emitted.
func (e *Engine) emit(o *owner, c change) bool {
	for _, p := range o.ws.posts() {
		e.overlay.ConfirmPost(p)
		p.Resolve(e.overlay)
	}

	list := o.ws.list()
	entries := make([]snapshot.Entry, len(list))
	for i, it := range list {
		entries[i] = snapshot.Entry{ID: it.ID(), Revision: it.Revision()}
	}
	changes := snapshot.Diff(o.prev, entries)
	if len(changes) == 0 && c.typ != model.UpdateHydrate {
		return false
	}
	o.prev = entries

	items := make([]model.ListItem, len(list))
	for i, it := range list {
		items[i] = it.Clone()
	}
	d := model.UpdateDescriptor{
		Feed:       o.feed,
		Type:       c.typ,
		Items:      items,
		Changes:    changes,
		Inserted:   len(c.inserted),
		Background: c.background,
	}

	e.scroll.Observe(d)
	if c.threshold >= 0 && len(c.inserted) > 0 {
		previews := make([]string, 0, model.MaxUnreadPreviews)
		for _, it := range c.inserted {
			if len(previews) == model.MaxUnreadPreviews {
				break
			}
			previews = append(previews, it.ID())
		}
		e.unread.Add(o.feed, len(c.inserted), c.threshold, previews)
	}

	metrics.Updates.WithLabelValues(string(o.feed.Kind), string(c.typ)).Inc()
	metrics.WorkingSetItems.WithLabelValues(o.feed.Key()).Set(float64(len(o.ws.items)))
	metrics.OverlayEntries.Set(float64(e.overlay.Len()))

	e.presenter.Present(d)
	if !e.switching.Load() {
		e.save(o)
	}
	e.watchQuotes(o)
	return true
}

// save queues a snapshot of the newest window of a feed, extended to the
// end of its page. Called with o.mu held.
func (e *Engine) save(o *owner) {
	if e.persist == nil {
		return
	}
	n, cursor, ok := o.ws.cut(e.window)
	if !ok {
		// No page cursor is known; Hydrate derives one where it can.
		n, cursor = min(len(o.ws.items), e.window), ""
	}
	items := make([]model.ListItem, n)
	for i := range n {
		items[i] = o.ws.items[i].Clone()
	}
	pos, _ := e.scroll.Get(o.feed)
	e.persist.enqueue(e.Account(), model.FeedSnapshot{
		Feed:     o.feed,
		Items:    items,
		Cursor:   cursor,
		Position: pos,
		SavedAt:  time.Now().UTC(),
	})
}
