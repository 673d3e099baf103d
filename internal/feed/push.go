package feed

import (
	"github.com/mattn/go-mastodon"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// RouteNotification returns the feed a pushed notification belongs to:
// mentions and direct messages go to mentionsIn, everything else to
// activity.
func RouteNotification(n *mastodon.Notification) model.FeedType {
	if normalize.IsMention(n) {
		return model.MentionsIn
	}
	return model.Activity
}

// HandleNotification inserts a pushed notification at the head of its
// feed. It races freely with fetches of the same feed; a notification
// already shown is refreshed instead of duplicated.
func (e *Engine) HandleNotification(n *mastodon.Notification) error {
	if n == nil {
		return nil
	}
	feed := RouteNotification(n)
	metrics.PushEvents.WithLabelValues(string(feed.Kind)).Inc()
	item, err := e.normalizer.Normalize(normalize.Raw{Notification: n}, normalize.Context{Feed: feed})
	if err != nil {
		e.Logger.Debug("dropping push", "feed", feed.Key(), "error", err)
		return err
	}
	_, err = e.InsertNewest(feed, []model.ListItem{item}, false)
	return err
}
