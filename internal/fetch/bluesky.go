package fetch

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"
	"resty.dev/v3"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

const (
	getTimeline    = "/xrpc/app.bsky.feed.getTimeline"
	getFeed        = "/xrpc/app.bsky.feed.getFeed"
	getListFeed    = "/xrpc/app.bsky.feed.getListFeed"
	getActorLikes  = "/xrpc/app.bsky.feed.getActorLikes"
	searchPosts    = "/xrpc/app.bsky.feed.searchPosts"
	getPosts       = "/xrpc/app.bsky.feed.getPosts"
	maxBlueskyPage = 100
)

// BlueskyConfig configures the schema B adapter.
type BlueskyConfig struct {
	BaseURL string
	Token   string
	// Actor is the DID of the signed-in account.
	Actor string
	// ForYouFeed is the at:// uri of the feed generator backing forYou.
	ForYouFeed string
	PageSize   int
	Timeout    time.Duration
}

// Bluesky fetches pages from an AppView through XRPC.
type Bluesky struct {
	Logger *slog.Logger

	cfg     BlueskyConfig
	client  *resty.Client
	limiter *hostLimiter
}

var (
	_ Fetcher     = (*Bluesky)(nil)
	_ ItemFetcher = (*Bluesky)(nil)
)

type feedPage struct {
	Cursor *string                       `json:"cursor,omitempty"`
	Feed   []*bsky.FeedDefs_FeedViewPost `json:"feed"`
}

type searchPage struct {
	Cursor *string                   `json:"cursor,omitempty"`
	Posts  []*bsky.FeedDefs_PostView `json:"posts"`
}

func NewBluesky(logger *slog.Logger, cfg BlueskyConfig) *Bluesky {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.PageSize = min(cfg.PageSize, maxBlueskyPage)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Bluesky{
		Logger:  logger.With("component", "fetch.Bluesky"),
		cfg:     cfg,
		client:  client,
		limiter: newHostLimiter(DelayBetweenHostRequests),
	}
}

func (b *Bluesky) Close() error {
	return b.client.Close()
}

func (b *Bluesky) r(ctx context.Context) *resty.Request {
	return b.client.R().WithContext(ctx)
}

// Fetch implements Fetcher. Cursors are the opaque tokens returned by the
// AppView.
func (b *Bluesky) Fetch(ctx context.Context, feed model.FeedType, rng Range) (Page, error) {
	q := url.Values{"limit": {strconv.Itoa(b.cfg.PageSize)}}
	if !rng.IsNewest() {
		q.Set("cursor", rng.Cursor)
	}
	op := "fetch " + feed.Key()

	var path string
	switch feed.Kind {
	case model.KindFollowing:
		path = getTimeline
	case model.KindForYou:
		if b.cfg.ForYouFeed == "" {
			return Page{}, newError(KindUnsupported, op, nil)
		}
		path = getFeed
		q.Set("feed", b.cfg.ForYouFeed)
	case model.KindChannel:
		path = getFeed
		q.Set("feed", feed.ID)
	case model.KindList:
		path = getListFeed
		q.Set("list", feed.ID)
	case model.KindLikes:
		path = getActorLikes
		q.Set("actor", b.cfg.Actor)
	case model.KindHashtag:
		return b.search(ctx, "#"+feed.Name, q, op, !rng.IsNewest())
	default:
		return Page{}, newError(KindUnsupported, op, nil)
	}

	var out feedPage
	if err := b.get(ctx, path, q, &out, op, !rng.IsNewest()); err != nil {
		return Page{}, err
	}
	page := Page{Records: make([]normalize.Raw, 0, len(out.Feed))}
	for _, fv := range out.Feed {
		if fv == nil || fv.Post == nil {
			continue
		}
		page.Records = append(page.Records, normalize.Raw{Post: fv})
	}
	if out.Cursor != nil && len(out.Feed) > 0 {
		page.NextCursor = *out.Cursor
	}
	return page, nil
}

func (b *Bluesky) search(ctx context.Context, term string, q url.Values, op string, paged bool) (Page, error) {
	q.Set("q", term)
	q.Set("sort", "latest")
	var out searchPage
	if err := b.get(ctx, searchPosts, q, &out, op, paged); err != nil {
		return Page{}, err
	}
	page := Page{Records: make([]normalize.Raw, 0, len(out.Posts))}
	for _, pv := range out.Posts {
		if pv == nil {
			continue
		}
		page.Records = append(page.Records, normalize.Raw{Post: &bsky.FeedDefs_FeedViewPost{Post: pv}})
	}
	if out.Cursor != nil && len(out.Posts) > 0 {
		page.NextCursor = *out.Cursor
	}
	return page, nil
}

// FetchItem implements ItemFetcher.
func (b *Bluesky) FetchItem(ctx context.Context, post *model.PostRecord) (normalize.Raw, error) {
	var out struct {
		Posts []*bsky.FeedDefs_PostView `json:"posts"`
	}
	op := "fetch item " + post.ID
	if err := b.get(ctx, getPosts, url.Values{"uris": {post.ID}}, &out, op, false); err != nil {
		return normalize.Raw{}, err
	}
	if len(out.Posts) == 0 || out.Posts[0] == nil {
		return normalize.Raw{}, newError(KindItemGone, op, nil)
	}
	return normalize.Raw{Post: &bsky.FeedDefs_FeedViewPost{Post: out.Posts[0]}}, nil
}

func (b *Bluesky) get(ctx context.Context, path string, q url.Values, out any, op string, paged bool) error {
	release, err := b.limiter.acquire(ctx, hostOf(b.cfg.BaseURL))
	if err != nil {
		return err
	}
	defer release()

	res, err := b.r(ctx).
		SetQueryParamsFromValues(q).
		SetResult(out).
		Get(path)
	if err := classify(op, res, err, paged); err != nil {
		b.Logger.Debug("request failed", "op", op, "error", err)
		return err
	}
	return nil
}
