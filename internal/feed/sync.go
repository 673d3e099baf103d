package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedsync/internal/events"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// ItemVisible reports that the row at position shows id. The item is
// re-synced once it stayed there for the item sync delay.
func (e *Engine) ItemVisible(feed model.FeedType, position int, id string) {
	e.itemSync.Schedule(feed, position, id)
}

// ItemHidden reports that the row at position scrolled off screen.
func (e *Engine) ItemHidden(feed model.FeedType, position int) {
	e.itemSync.Cancel(feed, position)
}

// SyncItem fetches the canonical version of a post and merges it into the
// displayed record. A post the server no longer has is removed everywhere.
// Other failures leave the record as it is.
func (e *Engine) SyncItem(ctx context.Context, feed model.FeedType, id string) error {
	gen, err := e.admit()
	if err != nil {
		return err
	}
	if e.items == nil {
		return nil
	}
	o := e.owner(feed)
	ctx, cancel := o.opContext(ctx)
	defer cancel()

	o.mu.Lock()
	i := o.ws.indexOf(id)
	var post *model.PostRecord
	if i >= 0 && o.ws.items[i].Post != nil {
		post = o.ws.items[i].Post.Clone()
	}
	o.mu.Unlock()
	if post == nil {
		return nil
	}

	raw, err := e.items.FetchItem(ctx, post)
	if errors.Is(err, fetch.ErrItemGone) {
		e.Logger.Debug("item gone", "feed", feed.Key(), "id", id)
		e.applyPostUpdate(events.PostUpdated{Post: post, Deleted: true})
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync item %s: %w", id, err)
	}
	fresh, err := e.normalizer.Normalize(raw, normalize.Context{Feed: feed})
	if err != nil {
		return fmt.Errorf("sync item %s: %w", id, err)
	}
	if fresh.Post == nil {
		return nil
	}

	merged, err := e.mergeSynced(ctx, o, gen, id, fresh.Post)
	if merged == nil || err != nil {
		return err
	}
	// Other feeds showing the post pick up the server state too.
	e.bus.Posts.Publish(events.PostUpdated{Post: merged})
	return nil
}

// mergeSynced folds a re-synced record into the item id of o and returns a
// copy of the result, or nil when the item is gone.
func (e *Engine) mergeSynced(ctx context.Context, o *owner, gen uint64, id string, fresh *model.PostRecord) (*model.PostRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.current(gen); err != nil {
		return nil, err
	}
	i := o.ws.indexOf(id)
	if i < 0 || o.ws.items[i].Post == nil {
		return nil, nil
	}
	p := o.ws.items[i].Post
	p.MergeOriginal(fresh)
	e.emit(o, change{typ: model.UpdateUpdate, threshold: -1, background: true})
	return p.Clone(), nil
}
