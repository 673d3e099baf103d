package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedsync/internal/events"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// locked runs fn on the working set of feed with the owner locked, after
// checking that mutations are allowed.
func (e *Engine) locked(feed model.FeedType, fn func(o *owner) error) error {
	gen, err := e.admit()
	if err != nil {
		return err
	}
	o := e.owner(feed)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := e.current(gen); err != nil {
		return err
	}
	return fn(o)
}

// InsertNewest puts push-delivered items at the head of a feed. It does
// not wait for fetches in flight on the same feed; items already present
// are refreshed in place. With includeLoadMore a feed without a cursor
// gets one when the backend can address the page after its last item. It
// returns the number of new rows.
func (e *Engine) InsertNewest(feed model.FeedType, items []model.ListItem, includeLoadMore bool) (int, error) {
	var n int
	err := e.locked(feed, func(o *owner) error {
		fresh := o.ws.insertNewest(items)
		if includeLoadMore && len(o.ws.items) > 0 {
			if c, ok := e.cursorAfter(feed, o.ws.items[len(o.ws.items)-1]); ok {
				o.ws.resumeAfter(c)
			}
		}
		n = len(fresh)
		typ := model.UpdateInsert
		if n == 0 {
			typ = model.UpdateUpdate
		}
		e.emit(o, change{typ: typ, inserted: fresh})
		return nil
	})
	return n, err
}

// cursorAfter derives the cursor of the page following last, for sets
// whose page cursor is unknown.
func (e *Engine) cursorAfter(feed model.FeedType, last model.ListItem) (string, bool) {
	d, ok := e.fetcher.(fetch.CursorDeriver)
	if !ok {
		return "", false
	}
	return d.CursorAfter(feed, last)
}

// Update replaces an item in place by identity.
func (e *Engine) Update(feed model.FeedType, item model.ListItem) error {
	return e.locked(feed, func(o *owner) error {
		i := o.ws.indexOf(item.ID())
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownItem, item.ID())
		}
		o.ws.replace(i, item)
		e.emit(o, change{typ: model.UpdateUpdate, threshold: -1})
		return nil
	})
}

// Remove drops an item by identity.
func (e *Engine) Remove(feed model.FeedType, id string) error {
	return e.locked(feed, func(o *owner) error {
		if !o.ws.remove(id) {
			return fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
		e.emit(o, change{typ: model.UpdateRemove, threshold: -1})
		return nil
	})
}

// RemoveAll clears a feed.
func (e *Engine) RemoveAll(feed model.FeedType) error {
	return e.locked(feed, func(o *owner) error {
		o.ws.reset()
		e.emit(o, change{typ: model.UpdateRemoveAll, threshold: -1, background: true})
		return nil
	})
}

// RemoveOldItems trims a feed back to the newest window.
func (e *Engine) RemoveOldItems(feed model.FeedType) error {
	return e.locked(feed, func(o *owner) error {
		if o.ws.trim(e.window) {
			e.emit(o, change{typ: model.UpdateRemoveAll, threshold: -1, background: true})
		}
		return nil
	})
}

// TrimAll trims every feed but the active one, used under memory pressure.
func (e *Engine) TrimAll() {
	active := e.Active()
	for _, o := range e.allOwners() {
		if o.feed.Equal(active) {
			continue
		}
		if err := e.RemoveOldItems(o.feed); err != nil {
			e.Logger.Debug("trim skipped", "feed", o.feed.Key(), "error", err)
		}
	}
}

// ClearErrorState drops the sticky error row of a feed.
func (e *Engine) ClearErrorState(feed model.FeedType) error {
	return e.locked(feed, func(o *owner) error {
		if o.ws.failure == nil {
			return nil
		}
		o.ws.failure = nil
		e.emit(o, change{typ: model.UpdateUpdate, threshold: -1})
		return nil
	})
}

// ForYouStatus is the state of the ranking server backing the forYou feed.
type ForYouStatus string

const (
	ForYouNone     ForYouStatus = ""
	ForYouUpdating ForYouStatus = "updating"
	ForYouUpdated  ForYouStatus = "updated"
	ForYouOverload ForYouStatus = "overload"
)

// ErrUnknownStatus is returned for an unsupported ForYouStatus.
var ErrUnknownStatus = errors.New("unknown forYou status")

// SetForYouStatus shows the ranking server status at the head of forYou.
func (e *Engine) SetForYouStatus(status ForYouStatus) error {
	var kind model.ItemKind
	switch status {
	case ForYouNone:
	case ForYouUpdating:
		kind = model.ItemServerUpdating
	case ForYouUpdated:
		kind = model.ItemServerUpdated
	case ForYouOverload:
		kind = model.ItemServerOverload
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return e.locked(model.ForYou, func(o *owner) error {
		o.ws.status = kind
		e.emit(o, change{typ: model.UpdateUpdate, threshold: -1})
		return nil
	})
}

// ForceReloadForYou drops the forYou feed and its snapshot and loads it
// again.
func (e *Engine) ForceReloadForYou(ctx context.Context) error {
	e.owner(model.ForYou).cancelInFlight()
	if err := e.RemoveAll(model.ForYou); err != nil {
		return err
	}
	if e.persist != nil {
		e.persist.forget(e.Account(), model.ForYou)
	}
	return e.LoadListData(ctx, model.ForYou, FetchRefresh)
}

// ToggleMetric records a user like, repost or bookmark before the network
// call resolves and broadcasts the post so every feed shows it.
func (e *Engine) ToggleMetric(metric model.Metric, id string, value bool) error {
	if _, err := e.admit(); err != nil {
		return err
	}
	post := e.findPost(id)
	if post == nil {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	e.overlay.Set(metric, id, value)
	e.applyPostUpdate(events.PostUpdated{Post: post})
	e.bus.Posts.Publish(events.PostUpdated{Post: post})
	return nil
}

// findPost returns a copy of the first record with the given id in any
// feed.
func (e *Engine) findPost(id string) *model.PostRecord {
	for _, o := range e.allOwners() {
		o.mu.Lock()
		for _, p := range o.ws.posts() {
			if p.UniqueID == id {
				out := p.Clone()
				o.mu.Unlock()
				return out
			}
		}
		o.mu.Unlock()
	}
	return nil
}
