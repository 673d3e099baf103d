package feed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/scheduler"
	"github.com/bryan-buckman/feedsync/internal/tracker"
)

// Hydrate fills an empty feed from its persisted snapshot and restores its
// scroll position, without a network round trip. It reports whether a
// snapshot was applied.
func (e *Engine) Hydrate(feed model.FeedType) (bool, error) {
	if e.persist == nil {
		return false, nil
	}
	gen, err := e.admit()
	if err != nil {
		return false, err
	}
	snap, err := e.persist.store.LoadSnapshot(e.Account(), feed)
	if err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", feed.Key(), err)
	}
	if snap == nil || len(snap.Items) == 0 {
		return false, nil
	}

	o := e.owner(feed)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := e.current(gen); err != nil {
		return false, err
	}
	if len(o.ws.items) > 0 {
		return false, nil
	}
	items := make([]model.ListItem, 0, len(snap.Items))
	seen := make(map[string]struct{}, len(snap.Items))
	for _, it := range snap.Items {
		if !it.IsContent() {
			continue
		}
		if _, dup := seen[it.ID()]; dup {
			continue
		}
		seen[it.ID()] = struct{}{}
		items = append(items, it)
	}
	if len(items) == 0 {
		return false, nil
	}
	cursor := snap.Cursor
	if cursor == "" {
		cursor, _ = e.cursorAfter(feed, items[len(items)-1])
	}
	o.ws.items = items
	o.ws.cursor = cursor
	o.ws.tag(items, cursor)
	o.ws.loaded = true
	if !snap.Position.IsZero() {
		e.scroll.Set(feed, snap.Position)
	}
	e.emit(o, change{typ: model.UpdateHydrate, threshold: -1, background: true})
	return true, nil
}

// HydrateAll hydrates several feeds concurrently.
func (e *Engine) HydrateAll(ctx context.Context, feeds []model.FeedType) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, f := range feeds {
		g.Go(func() error {
			_, err := e.Hydrate(f)
			return err
		})
	}
	return g.Wait()
}

// ChangeFeed makes to the active feed. Work in flight for the previous
// feed is cancelled, including its poller and item syncs. The new feed's
// current list is emitted again and loaded when empty.
func (e *Engine) ChangeFeed(ctx context.Context, to model.FeedType) error {
	if _, err := e.admit(); err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.active
	e.active = to
	e.mu.Unlock()
	if prev.Equal(to) {
		return nil
	}

	e.poller.Stop(prev)
	e.itemSync.CancelFeed(prev)
	e.owner(prev).cancelInFlight()

	if err := e.ClearErrorState(to); err != nil {
		return err
	}
	o := e.owner(to)
	o.mu.Lock()
	empty := len(o.ws.items) == 0
	e.emit(o, change{typ: model.UpdateHydrate, threshold: -1, background: true})
	o.mu.Unlock()

	if empty {
		if ok, err := e.Hydrate(to); err != nil {
			e.Logger.Warn("hydrate failed", "feed", to.Key(), "error", err)
		} else if !ok {
			e.spawn(func(engineCtx context.Context) {
				ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				defer cancel()
				stop := context.AfterFunc(engineCtx, cancel)
				defer stop()
				if err := e.LoadListData(ctx, to, FetchRefresh); err != nil {
					e.Logger.Debug("initial load failed", "feed", to.Key(), "error", err)
				}
			})
		}
	}
	e.poller.Start(to, scheduler.SwitchDelay)
	return nil
}

// StartPolling polls the active feed, used when the app comes to the
// foreground.
func (e *Engine) StartPolling() {
	if e.switching.Load() || e.closed.Load() {
		return
	}
	e.poller.Start(e.Active(), scheduler.ForegroundDelay)
	e.poller.Start(model.MentionsIn, scheduler.ForegroundDelay)
	e.poller.Start(model.Activity, scheduler.ForegroundDelay)
}

// StopPolling stops every poller and pending item sync, used when the app
// goes to the background.
func (e *Engine) StopPolling() {
	e.poller.StopAll()
	e.itemSync.CancelAll()
}

// ScrolledToTop resets the unread indicator of a feed and trims it back to
// the newest window.
func (e *Engine) ScrolledToTop(feed model.FeedType) error {
	e.unread.ScrolledToTop(feed)
	return e.RemoveOldItems(feed)
}

// ScrolledAway resumes unread counting for a feed.
func (e *Engine) ScrolledAway(feed model.FeedType) {
	e.unread.ScrolledAway(feed)
}

// CacheScroll records the anchor of the viewport of a feed.
func (e *Engine) CacheScroll(feed model.FeedType, vp tracker.Viewport) (model.ScrollPosition, bool) {
	pos, ok := e.scroll.Cache(feed, vp)
	if ok {
		o := e.owner(feed)
		o.mu.Lock()
		e.save(o)
		o.mu.Unlock()
	}
	return pos, ok
}

// WillSwitchAccount stops every mutation until DidSwitchAccount. Work in
// flight is cancelled and dropped.
func (e *Engine) WillSwitchAccount() {
	e.switching.Store(true)
	e.generation.Add(1)
	e.poller.StopAll()
	e.itemSync.CancelAll()
	for _, o := range e.allOwners() {
		o.cancelInFlight()
	}
}

// DidSwitchAccount clears every feed, resets the overlay and trackers and
// resumes work for account. The active feed is hydrated from the new
// account's snapshot.
func (e *Engine) DidSwitchAccount(account string) error {
	e.generation.Add(1)
	for _, o := range e.allOwners() {
		o.mu.Lock()
		o.ws.reset()
		e.emit(o, change{typ: model.UpdateRemoveAll, threshold: -1, background: true})
		o.mu.Unlock()
	}
	e.overlay.Reset()
	e.unread.Reset()
	e.mu.Lock()
	e.account = account
	active := e.active
	e.mu.Unlock()
	for _, o := range e.allOwners() {
		e.scroll.Clear(o.feed)
	}
	e.switching.Store(false)

	if _, err := e.Hydrate(active); err != nil {
		e.Logger.Warn("hydrate failed", "feed", active.Key(), "error", err)
	}
	e.poller.Start(active, scheduler.SwitchDelay)
	return nil
}
