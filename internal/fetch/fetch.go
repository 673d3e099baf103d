// Package fetch provides the adapters that load pages of raw records from
// the supported backends.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 40

// Range selects a page. The zero value asks for the newest page; a cursor
// asks for the page older than the record it names.
type Range struct {
	Cursor string
}

// Newest is the range of the newest page.
var Newest = Range{}

// IsNewest reports whether the range addresses the newest page.
func (r Range) IsNewest() bool {
	return r.Cursor == ""
}

func (r Range) label() string {
	if r.IsNewest() {
		return "newest"
	}
	return "older"
}

// Page is one fetched page. NextCursor is empty when the backend has no
// older records.
type Page struct {
	Records    []normalize.Raw
	NextCursor string
}

// Fetcher loads pages of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, feed model.FeedType, rng Range) (Page, error)
}

// CursorDeriver is implemented by adapters that can address the page
// following a record without having fetched the page it came from.
type CursorDeriver interface {
	CursorAfter(feed model.FeedType, last model.ListItem) (string, bool)
}

// ItemFetcher loads the canonical version of a single post.
type ItemFetcher interface {
	FetchItem(ctx context.Context, post *model.PostRecord) (normalize.Raw, error)
}

// Resolver looks up a post by its public URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) (normalize.Raw, error)
}

// Router dispatches requests to the adapter serving each feed and schema.
type Router struct {
	// Primary serves every feed of the signed-in account.
	Primary Fetcher
	// Channels serves channel feeds backed by a syndication URL.
	Channels Fetcher
	// Items serves per-post re-syncs by record schema.
	Items map[model.Schema]ItemFetcher
	// Quotes resolves quote links.
	Quotes Resolver
}

var (
	_ Fetcher       = (*Router)(nil)
	_ ItemFetcher   = (*Router)(nil)
	_ Resolver      = (*Router)(nil)
	_ CursorDeriver = (*Router)(nil)
)

func (r *Router) route(feed model.FeedType) Fetcher {
	if feed.Kind == model.KindChannel && feed.URL != "" {
		return r.Channels
	}
	return r.Primary
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, feed model.FeedType, rng Range) (Page, error) {
	f := r.route(feed)
	if f == nil {
		return Page{}, newError(KindUnsupported, "fetch "+feed.Key(), nil)
	}

	start := time.Now()
	page, err := f.Fetch(ctx, feed, rng)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.Fetches.WithLabelValues(string(feed.Kind), rng.label(), outcome).Inc()
	metrics.FetchLatency.WithLabelValues(string(feed.Kind), rng.label()).Observe(time.Since(start).Seconds())
	return page, err
}

// CursorAfter implements CursorDeriver.
func (r *Router) CursorAfter(feed model.FeedType, last model.ListItem) (string, bool) {
	d, ok := r.route(feed).(CursorDeriver)
	if !ok {
		return "", false
	}
	return d.CursorAfter(feed, last)
}

// FetchItem implements ItemFetcher.
func (r *Router) FetchItem(ctx context.Context, post *model.PostRecord) (normalize.Raw, error) {
	f, ok := r.Items[post.Source]
	if !ok || f == nil {
		return normalize.Raw{}, newError(KindUnsupported, "fetch item "+post.ID, nil)
	}
	return f.FetchItem(ctx, post)
}

// Resolve implements Resolver.
func (r *Router) Resolve(ctx context.Context, url string) (normalize.Raw, error) {
	if r.Quotes == nil {
		return normalize.Raw{}, newError(KindUnsupported, "resolve "+url, nil)
	}
	return r.Quotes.Resolve(ctx, url)
}
