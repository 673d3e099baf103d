package fetch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// Channel fetches channel feeds published as RSS or Atom. Syndication feeds
// have no server-side paging, so the cursor is an offset into the parsed
// document ordered newest first.
type Channel struct {
	Logger   *slog.Logger
	PageSize int

	parser  *gofeed.Parser
	limiter *hostLimiter
}

var _ Fetcher = (*Channel)(nil)

func NewChannel(logger *slog.Logger, pageSize int) *Channel {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Channel{
		Logger:   logger.With("component", "fetch.Channel"),
		PageSize: pageSize,
		parser:   gofeed.NewParser(),
		limiter:  newHostLimiter(DelayBetweenHostRequests),
	}
}

// Fetch implements Fetcher.
func (c *Channel) Fetch(ctx context.Context, feed model.FeedType, rng Range) (Page, error) {
	op := "fetch " + feed.Key()
	if feed.URL == "" {
		return Page{}, newError(KindUnsupported, op, nil)
	}
	offset := 0
	if !rng.IsNewest() {
		var err error
		offset, err = strconv.Atoi(rng.Cursor)
		if err != nil || offset < 0 {
			return Page{}, newError(KindStaleCursor, op, err)
		}
	}

	release, err := c.limiter.acquire(ctx, hostOf(feed.URL))
	if err != nil {
		return Page{}, err
	}
	parsed, err := c.parser.ParseURLWithContext(feed.URL, ctx)
	release()
	if err != nil {
		return Page{}, c.classify(op, err)
	}

	items := parsed.Items
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedParsed, items[j].PublishedParsed
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	if offset > len(items) {
		return Page{}, newError(KindStaleCursor, op, nil)
	}

	end := min(offset+c.PageSize, len(items))
	page := Page{Records: make([]normalize.Raw, 0, end-offset)}
	for _, it := range items[offset:end] {
		page.Records = append(page.Records, normalize.Raw{Entry: it, Origin: feed.Key()})
	}
	if end < len(items) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (c *Channel) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(op, httpErr.StatusCode, false)
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return newError(KindMalformed, op, err)
	}
	c.Logger.Debug("syndication fetch failed", "op", op, "error", err)
	return newError(KindNetwork, op, err)
}
