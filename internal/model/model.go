// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedKind identifies one of the supported timeline sources.
type FeedKind string

const (
	KindForYou      FeedKind = "forYou"
	KindFollowing   FeedKind = "following"
	KindFederated   FeedKind = "federated"
	KindCommunity   FeedKind = "community"
	KindTrending    FeedKind = "trending"
	KindHashtag     FeedKind = "hashtag"
	KindList        FeedKind = "list"
	KindLikes       FeedKind = "likes"
	KindBookmarks   FeedKind = "bookmarks"
	KindMentionsIn  FeedKind = "mentionsIn"
	KindMentionsOut FeedKind = "mentionsOut"
	KindActivity    FeedKind = "activity"
	KindChannel     FeedKind = "channel"
)

// FeedType is a timeline the user can open. Payload fields are only set for
// the kinds that carry one: Name for community/trending/hashtag, ID and Title
// for list/channel, URL for channels backed by a syndication feed.
//
// Two feed types are the same feed when their Key values match. Instance
// names and hashtags compare case-insensitively; list and channel ids compare
// exactly and their titles are ignored.
type FeedType struct {
	Kind  FeedKind `json:"kind"`
	Name  string   `json:"name,omitempty"`
	ID    string   `json:"id,omitempty"`
	Title string   `json:"title,omitempty"`
	URL   string   `json:"url,omitempty"`
}

var (
	ForYou      = FeedType{Kind: KindForYou}
	Following   = FeedType{Kind: KindFollowing}
	Federated   = FeedType{Kind: KindFederated}
	Likes       = FeedType{Kind: KindLikes}
	Bookmarks   = FeedType{Kind: KindBookmarks}
	MentionsIn  = FeedType{Kind: KindMentionsIn}
	MentionsOut = FeedType{Kind: KindMentionsOut}
	Activity    = FeedType{Kind: KindActivity}
)

// Community returns the local timeline of another instance.
func Community(instance string) FeedType {
	return FeedType{Kind: KindCommunity, Name: instance}
}

// Trending returns the trending timeline of an instance.
func Trending(instance string) FeedType {
	return FeedType{Kind: KindTrending, Name: instance}
}

// Hashtag returns the timeline for a tag. A leading '#' is dropped.
func Hashtag(tag string) FeedType {
	return FeedType{Kind: KindHashtag, Name: strings.TrimPrefix(tag, "#")}
}

// List returns a user list timeline.
func List(id, title string) FeedType {
	return FeedType{Kind: KindList, ID: id, Title: title}
}

// Channel returns a curated channel timeline. url may be empty when the
// channel is served by the account's own backend.
func Channel(id, title, url string) FeedType {
	return FeedType{Kind: KindChannel, ID: id, Title: title, URL: url}
}

// Key returns the stable identity of the feed type, also used as the
// persisted cache key and in URLs.
func (f FeedType) Key() string {
	switch f.Kind {
	case KindCommunity, KindTrending, KindHashtag:
		return string(f.Kind) + ":" + strings.ToLower(f.Name)
	case KindList, KindChannel:
		return string(f.Kind) + ":" + f.ID
	default:
		return string(f.Kind)
	}
}

// Equal reports whether both values address the same feed.
func (f FeedType) Equal(other FeedType) bool {
	return f.Key() == other.Key()
}

func (f FeedType) String() string {
	return f.Key()
}

// ParseFeedType reverses Key. Titles and URLs are not part of the key and
// come back empty.
func ParseFeedType(key string) (FeedType, error) {
	kind, payload, hasPayload := strings.Cut(key, ":")
	ft := FeedType{Kind: FeedKind(kind)}
	switch ft.Kind {
	case KindCommunity, KindTrending, KindHashtag:
		if !hasPayload || payload == "" {
			return FeedType{}, fmt.Errorf("%w: %q needs a name", ErrInvalidFeedKey, key)
		}
		ft.Name = payload
	case KindList, KindChannel:
		if !hasPayload || payload == "" {
			return FeedType{}, fmt.Errorf("%w: %q needs an id", ErrInvalidFeedKey, key)
		}
		ft.ID = payload
	case KindForYou, KindFollowing, KindFederated, KindLikes, KindBookmarks,
		KindMentionsIn, KindMentionsOut, KindActivity:
		if hasPayload {
			return FeedType{}, fmt.Errorf("%w: %q takes no payload", ErrInvalidFeedKey, key)
		}
	default:
		return FeedType{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFeedKey, kind)
	}
	return ft, nil
}

// DisplayTitle returns the label shown in the feed menu.
func (f FeedType) DisplayTitle() string {
	switch f.Kind {
	case KindForYou:
		return "For You"
	case KindFollowing:
		return "Following"
	case KindFederated:
		return "Federated"
	case KindCommunity:
		return f.Name
	case KindTrending:
		return "Trending"
	case KindHashtag:
		return "#" + f.Name
	case KindList, KindChannel:
		return f.Title
	case KindLikes:
		return "Favorites"
	case KindBookmarks:
		return "Bookmarks"
	case KindMentionsIn:
		return "Received Mentions"
	case KindMentionsOut:
		return "Sent Mentions"
	case KindActivity:
		return "Activity"
	}
	return string(f.Kind)
}

// ShouldSyncItems reports whether visible items get re-fetched after the
// on-screen debounce.
func (f FeedType) ShouldSyncItems() bool {
	switch f.Kind {
	case KindActivity, KindMentionsIn, KindMentionsOut:
		return false
	}
	return true
}

// ShouldPoll reports whether the feed is kept fresh by polling. Activity and
// received mentions are fed by push events instead.
func (f FeedType) ShouldPoll() bool {
	switch f.Kind {
	case KindActivity, KindMentionsIn, KindMentionsOut:
		return false
	}
	return true
}

// PollingFrequency is the interval between two background loadLatest calls.
func (f FeedType) PollingFrequency() time.Duration {
	switch f.Kind {
	case KindMentionsIn, KindActivity:
		return 10 * time.Second
	case KindMentionsOut:
		return 60 * time.Second
	}
	return DefaultPollingInterval
}

// PollingInterval is PollingFrequency with the middle tier replaced by a
// configured value. Non-positive middle keeps the default.
func (f FeedType) PollingInterval(middle time.Duration) time.Duration {
	d := f.PollingFrequency()
	if d != DefaultPollingInterval || middle <= 0 {
		return d
	}
	return middle
}

// NewItemsThreshold is the default number of new items needed to switch the
// unread indicator on.
func (f FeedType) NewItemsThreshold() int {
	switch f.Kind {
	case KindMentionsIn, KindMentionsOut, KindActivity:
		return 1
	}
	return 5
}

// StaticMetrics reports whether server counters of this feed never move
// after the page was computed (precomputed ranking feeds).
func (f FeedType) StaticMetrics() bool {
	return f.Kind == KindForYou
}

// Settings key constants.
const (
	SettingPollingInterval       = "polling_interval_seconds"
	SettingShowOriginalTimestamp = "show_original_timestamp"
)

// DefaultPollingInterval is the middle polling tier.
const DefaultPollingInterval = 30 * time.Second

// MinPollingInterval is the smallest middle tier accepted from settings.
const MinPollingInterval = 10 * time.Second

// DefaultNewestWindow is the number of most recent items kept eagerly per feed.
const DefaultNewestWindow = 35
