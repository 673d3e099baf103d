package feed

import (
	"context"
	"slices"
	"strings"

	"github.com/bryan-buckman/feedsync/internal/events"
	"github.com/bryan-buckman/feedsync/internal/model"
)

const eventBuffer = 16

// subscribe attaches the engine to the bus until Close.
func (e *Engine) subscribe() {
	moderation, unsubModeration := e.bus.Moderation.Subscribe(eventBuffer)
	follows, unsubFollows := e.bus.Follows.Subscribe(eventBuffer)
	posts, unsubPosts := e.bus.Posts.Subscribe(eventBuffer)
	e.unsubscribe = []func(){unsubModeration, unsubFollows, unsubPosts}

	e.spawn(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-moderation:
				e.applyModeration()
			case ev := <-follows:
				e.applyFollow(ev)
			case ev := <-posts:
				e.applyPostUpdate(ev)
			}
		}
	})
}

// applyModeration re-evaluates blocked, muted and filter state everywhere.
func (e *Engine) applyModeration() {
	for _, o := range e.allOwners() {
		_ = e.locked(o.feed, func(o *owner) error {
			for _, p := range o.ws.posts() {
				e.normalizer.Refresh(p, o.feed)
			}
			e.emit(o, change{typ: model.UpdateUpdate, threshold: -1, background: true})
			return nil
		})
	}
}

// applyFollow drops the posts of an unfollowed account from the following
// feed, including the ones it boosted.
func (e *Engine) applyFollow(ev events.FollowStatusChanged) {
	if ev.Following {
		return
	}
	err := e.locked(model.Following, func(o *owner) error {
		before := len(o.ws.items)
		o.ws.items = slices.DeleteFunc(o.ws.items, func(it model.ListItem) bool {
			return it.Post != nil && byAccount(it.Post, ev.Account)
		})
		if len(o.ws.items) != before {
			e.emit(o, change{typ: model.UpdateRemove, threshold: -1})
		}
		return nil
	})
	if err != nil {
		e.Logger.Debug("follow change dropped", "account", ev.Account, "error", err)
	}
}

// byAccount reports whether account brought p into the feed: the booster
// of a reblog, otherwise the author. account is an id or a handle, with or
// without a leading @; handles match case-insensitively.
func byAccount(p *model.PostRecord, account string) bool {
	id := strings.TrimPrefix(account, "@")
	if id == "" {
		return false
	}
	tag := strings.ToLower(id)
	if p.IsReblog {
		return p.RebloggerID == id || (p.RebloggerTag != "" && strings.ToLower(p.RebloggerTag) == tag)
	}
	return p.AuthorID == id || (p.AuthorTag != "" && strings.ToLower(p.AuthorTag) == tag)
}

// applyPostUpdate refreshes or removes a post in every feed showing it.
func (e *Engine) applyPostUpdate(ev events.PostUpdated) {
	if ev.Post == nil {
		return
	}
	id := ev.Post.UniqueID
	for _, o := range e.allOwners() {
		_ = e.locked(o.feed, func(o *owner) error {
			typ := model.UpdateUpdate
			if ev.Deleted {
				if !o.ws.remove(id) {
					return nil
				}
				typ = model.UpdateRemove
			} else {
				found := false
				for i, it := range o.ws.items {
					switch {
					case it.Post != nil && it.Post.UniqueID == id:
						o.ws.refresh(i, model.PostItem(ev.Post))
						found = true
					case it.Activity != nil && it.Activity.Post != nil && it.Activity.Post.UniqueID == id:
						it.Activity.Post.MergeOriginal(ev.Post)
						found = true
					}
				}
				if !found {
					return nil
				}
			}
			e.emit(o, change{typ: typ, threshold: -1})
			return nil
		})
	}
}
