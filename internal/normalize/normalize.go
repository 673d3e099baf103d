// Package normalize converts raw backend records into model list items.
//
// Normalization is deterministic for a given record, option set and
// moderation state. Display metrics are resolved later by the engine
// against the local overlay.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluesky-social/indigo/api/bsky"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-mastodon"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ErrMalformedRecord is returned for records missing required fields.
var ErrMalformedRecord = errors.New("malformed record")

// Raw is one record as returned by a fetcher adapter. Exactly one of the
// record fields is set.
type Raw struct {
	Status       *mastodon.Status
	Notification *mastodon.Notification
	Post         *bsky.FeedDefs_FeedViewPost
	Entry        *gofeed.Item

	// Application is the client name of a schema A status, decoded beside it.
	Application string
	// InstanceName is set for records fetched from an instance other than
	// the account's home server.
	InstanceName string
	// Origin identifies the syndication feed an Entry came from.
	Origin string
}

// Schema returns the backend the record came from.
func (r Raw) Schema() model.Schema {
	switch {
	case r.Post != nil:
		return model.SchemaBluesky
	case r.Entry != nil:
		return model.SchemaSyndication
	}
	return model.SchemaMastodon
}

// Options are the account-level inputs of normalization.
type Options struct {
	CurrentUserID         string
	ShowOriginalTimestamp bool
	Filters               []Filter
}

// Context carries per-page inputs.
type Context struct {
	Feed       model.FeedType
	BatchID    string
	BatchIndex int
}

// Normalizer turns raw records into list items.
type Normalizer struct {
	Logger *slog.Logger

	moderation Moderation
	quotes     *lru.Cache[string, *model.PostRecord]

	mu   sync.RWMutex
	opts Options
}

// New returns a normalizer reading moderation state from m and caching up to
// quoteCacheSize resolved quote posts.
func New(logger *slog.Logger, m Moderation, quoteCacheSize int, opts Options) (*Normalizer, error) {
	quotes, err := lru.New[string, *model.PostRecord](quoteCacheSize)
	if err != nil {
		return nil, fmt.Errorf("quote cache: %w", err)
	}
	if m == nil {
		m = NewSets()
	}
	return &Normalizer{
		Logger:     logger.With("component", "normalize.Normalizer"),
		moderation: m,
		quotes:     quotes,
		opts:       opts,
	}, nil
}

// SetOptions replaces the options used by subsequent calls.
func (n *Normalizer) SetOptions(opts Options) {
	n.mu.Lock()
	n.opts = opts
	n.mu.Unlock()
}

// Options returns a copy of the current options.
func (n *Normalizer) Options() Options {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.opts
}

// Normalize converts a single record.
func (n *Normalizer) Normalize(raw Raw, c Context) (model.ListItem, error) {
	opts := n.Options()
	switch {
	case raw.Notification != nil:
		a, err := n.activity(raw, c, opts)
		if err != nil {
			return model.ListItem{}, err
		}
		return model.ActivityItem(a), nil
	case raw.Status != nil:
		p, err := n.mastodonPost(raw.Status, raw.Application, raw.InstanceName, c, opts)
		if err != nil {
			return model.ListItem{}, err
		}
		return model.PostItem(p), nil
	case raw.Post != nil:
		p, err := n.blueskyPost(raw.Post, c, opts)
		if err != nil {
			return model.ListItem{}, err
		}
		return model.PostItem(p), nil
	case raw.Entry != nil:
		p, err := n.syndicationPost(raw.Entry, raw.Origin, c, opts)
		if err != nil {
			return model.ListItem{}, err
		}
		return model.PostItem(p), nil
	}
	return model.ListItem{}, fmt.Errorf("%w: empty record", ErrMalformedRecord)
}

// NormalizePage converts a page, tagging every item with the batch id and
// its position. Malformed records are logged and skipped.
func (n *Normalizer) NormalizePage(raws []Raw, feed model.FeedType, batchID string) []model.ListItem {
	out := make([]model.ListItem, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		item, err := n.Normalize(raw, Context{Feed: feed, BatchID: batchID, BatchIndex: i})
		if err != nil {
			n.Logger.Debug("skipping record", "feed", feed.Key(), "index", i, "error", err)
			continue
		}
		if _, dup := seen[item.ID()]; dup {
			continue
		}
		seen[item.ID()] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Refresh re-evaluates moderation and filters of a record in place, used
// after the moderation state changed.
func (n *Normalizer) Refresh(p *model.PostRecord, feed model.FeedType) {
	if p == nil {
		return
	}
	opts := n.Options()
	p.IsBlocked = n.moderation.IsBlocked(p.AuthorTag)
	p.IsMuted = n.moderation.IsMuted(p.AuthorTag)
	p.Filter = evaluateFilters(opts.Filters, feed.Kind, p.Text, p.ContentWarning)
}

// CacheQuote remembers the resolution of a quote URL. A nil record caches a
// miss.
func (n *Normalizer) CacheQuote(url string, p *model.PostRecord) {
	n.quotes.Add(url, p)
}

// CachedQuote returns a previous resolution of a quote URL.
func (n *Normalizer) CachedQuote(url string) (*model.PostRecord, bool) {
	return n.quotes.Get(url)
}

func (n *Normalizer) applyCommon(p *model.PostRecord, c Context, opts Options) {
	p.BatchID = c.BatchID
	p.BatchIndex = c.BatchIndex
	p.StaticMetrics = c.Feed.StaticMetrics()
	p.IsOwn = opts.CurrentUserID != "" && p.AuthorID == opts.CurrentUserID
	p.IsBlocked = n.moderation.IsBlocked(p.AuthorTag)
	p.IsMuted = n.moderation.IsMuted(p.AuthorTag)
	p.Filter = evaluateFilters(opts.Filters, c.Feed.Kind, p.Text, p.ContentWarning)
	p.MediaDisplay = mediaDisplay(p.Media)
	if p.QuoteStatus == "" {
		p.QuoteStatus = model.QuoteDisabled
	}
}
