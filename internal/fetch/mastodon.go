package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/mattn/go-mastodon"
	"github.com/samber/lo"
	"resty.dev/v3"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// MastodonConfig configures the schema A adapter.
type MastodonConfig struct {
	BaseURL   string
	Token     string
	AccountID string
	// ForYouURL is the timeline endpoint of the ranking service.
	ForYouURL string
	PageSize  int
	Timeout   time.Duration
	// Scheme is used for community and trending feeds of other instances.
	Scheme string
}

// Mastodon fetches pages from a Mastodon-compatible API.
type Mastodon struct {
	Logger *slog.Logger

	cfg     MastodonConfig
	home    *resty.Client
	public  *resty.Client
	limiter *hostLimiter
}

var (
	_ Fetcher     = (*Mastodon)(nil)
	_ ItemFetcher = (*Mastodon)(nil)
	_ Resolver    = (*Mastodon)(nil)
)

// statusEnvelope decodes the client name next to the status.
type statusEnvelope struct {
	*mastodon.Status
	Application *struct {
		Name string `json:"name"`
	} `json:"application"`
}

func (e statusEnvelope) raw(instance string) normalize.Raw {
	r := normalize.Raw{Status: e.Status, InstanceName: instance}
	if e.Application != nil {
		r.Application = e.Application.Name
	}
	return r
}

func NewMastodon(logger *slog.Logger, cfg MastodonConfig) *Mastodon {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	home := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		home.SetAuthToken(cfg.Token)
	}
	public := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Mastodon{
		Logger:  logger.With("component", "fetch.Mastodon"),
		cfg:     cfg,
		home:    home,
		public:  public,
		limiter: newHostLimiter(DelayBetweenHostRequests),
	}
}

func (m *Mastodon) Close() error {
	return errors.Join(m.home.Close(), m.public.Close())
}

type endpoint struct {
	client        *resty.Client
	url           string
	host          string
	query         url.Values
	notifications bool
	offsetPaging  bool
	instance      string
	mentionsOnly  bool
}

func (m *Mastodon) endpoint(feed model.FeedType) (endpoint, error) {
	home := func(path string) endpoint {
		return endpoint{client: m.home, url: path, host: hostOf(m.cfg.BaseURL), query: url.Values{}}
	}
	remote := func(instance, path string) endpoint {
		u := m.cfg.Scheme + "://" + instance + path
		return endpoint{client: m.public, url: u, host: instance, query: url.Values{}, instance: instance}
	}

	switch feed.Kind {
	case model.KindForYou:
		if m.cfg.ForYouURL == "" {
			break
		}
		return endpoint{client: m.home, url: m.cfg.ForYouURL, host: hostOf(m.cfg.ForYouURL), query: url.Values{}}, nil
	case model.KindFollowing:
		return home("/api/v1/timelines/home"), nil
	case model.KindFederated:
		return home("/api/v1/timelines/public"), nil
	case model.KindCommunity:
		e := remote(feed.Name, "/api/v1/timelines/public")
		e.query.Set("local", "true")
		return e, nil
	case model.KindTrending:
		e := remote(feed.Name, "/api/v1/trends/statuses")
		e.offsetPaging = true
		return e, nil
	case model.KindHashtag:
		return home("/api/v1/timelines/tag/" + url.PathEscape(feed.Name)), nil
	case model.KindList:
		return home("/api/v1/timelines/list/" + url.PathEscape(feed.ID)), nil
	case model.KindChannel:
		return home("/api/v1/timelines/channel/" + url.PathEscape(feed.ID)), nil
	case model.KindLikes:
		return home("/api/v1/favourites"), nil
	case model.KindBookmarks:
		return home("/api/v1/bookmarks"), nil
	case model.KindMentionsIn:
		e := home("/api/v1/notifications")
		e.query.Set("types[]", "mention")
		e.notifications = true
		return e, nil
	case model.KindActivity:
		e := home("/api/v1/notifications")
		e.query.Set("exclude_types[]", "mention")
		e.notifications = true
		return e, nil
	case model.KindMentionsOut:
		if m.cfg.AccountID == "" {
			break
		}
		e := home("/api/v1/accounts/" + url.PathEscape(m.cfg.AccountID) + "/statuses")
		e.query.Set("exclude_reblogs", "true")
		e.mentionsOnly = true
		return e, nil
	}
	return endpoint{}, newError(KindUnsupported, "mastodon "+feed.Key(), nil)
}

// Fetch implements Fetcher.
func (m *Mastodon) Fetch(ctx context.Context, feed model.FeedType, rng Range) (Page, error) {
	e, err := m.endpoint(feed)
	if err != nil {
		return Page{}, err
	}
	e.query.Set("limit", strconv.Itoa(m.cfg.PageSize))
	offset := 0
	if !rng.IsNewest() {
		if e.offsetPaging {
			offset, err = strconv.Atoi(rng.Cursor)
			if err != nil || offset < 0 {
				return Page{}, newError(KindStaleCursor, "fetch "+feed.Key(), err)
			}
			e.query.Set("offset", rng.Cursor)
		} else {
			e.query.Set("max_id", rng.Cursor)
		}
	}
	op := "fetch " + feed.Key()

	if e.notifications {
		var out []*mastodon.Notification
		res, err := m.get(ctx, e, &out, op, !rng.IsNewest())
		if err != nil {
			return Page{}, err
		}
		page := Page{Records: make([]normalize.Raw, 0, len(out))}
		for _, n := range out {
			if n == nil {
				continue
			}
			page.Records = append(page.Records, normalize.Raw{Notification: n})
		}
		if len(out) > 0 {
			page.NextCursor, _ = lo.Coalesce(nextMaxID(res.Header()), string(out[len(out)-1].ID))
		}
		return page, nil
	}

	var out []statusEnvelope
	res, err := m.get(ctx, e, &out, op, !rng.IsNewest())
	if err != nil {
		return Page{}, err
	}
	page := Page{Records: make([]normalize.Raw, 0, len(out))}
	for _, s := range out {
		if s.Status == nil {
			continue
		}
		if e.mentionsOnly && len(s.Mentions) == 0 {
			continue
		}
		page.Records = append(page.Records, s.raw(e.instance))
	}
	if len(out) > 0 {
		switch {
		case e.offsetPaging:
			page.NextCursor = strconv.Itoa(offset + len(out))
		case out[len(out)-1].Status != nil:
			page.NextCursor, _ = lo.Coalesce(nextMaxID(res.Header()), string(out[len(out)-1].ID))
		}
	}
	return page, nil
}

// CursorAfter implements CursorDeriver. Timelines and notifications page
// by the id of their last record; favourites, bookmarks and trends use
// tokens only the server hands out.
func (m *Mastodon) CursorAfter(feed model.FeedType, last model.ListItem) (string, bool) {
	e, err := m.endpoint(feed)
	if err != nil || e.offsetPaging {
		return "", false
	}
	switch feed.Kind {
	case model.KindForYou, model.KindLikes, model.KindBookmarks:
		return "", false
	}
	id := last.CursorID()
	return id, id != ""
}

// FetchItem implements ItemFetcher. Posts of other instances are read from
// their origin server without credentials.
func (m *Mastodon) FetchItem(ctx context.Context, post *model.PostRecord) (normalize.Raw, error) {
	path := "/api/v1/statuses/" + url.PathEscape(post.ID)
	e := endpoint{client: m.home, url: path, host: hostOf(m.cfg.BaseURL)}
	if post.InstanceName != "" {
		e = endpoint{client: m.public, url: m.cfg.Scheme + "://" + post.InstanceName + path, host: post.InstanceName, instance: post.InstanceName}
	}
	var out statusEnvelope
	if _, err := m.get(ctx, e, &out, "fetch item "+post.ID, false); err != nil {
		return normalize.Raw{}, err
	}
	if out.Status == nil {
		return normalize.Raw{}, newError(KindMalformed, "fetch item "+post.ID, nil)
	}
	return out.raw(e.instance), nil
}

// Resolve implements Resolver through the search endpoint.
func (m *Mastodon) Resolve(ctx context.Context, link string) (normalize.Raw, error) {
	e := endpoint{client: m.home, url: "/api/v2/search", host: hostOf(m.cfg.BaseURL), query: url.Values{
		"q":       {link},
		"type":    {"statuses"},
		"resolve": {"true"},
		"limit":   {"1"},
	}}
	var out struct {
		Statuses []statusEnvelope `json:"statuses"`
	}
	if _, err := m.get(ctx, e, &out, "resolve "+link, false); err != nil {
		return normalize.Raw{}, err
	}
	if len(out.Statuses) == 0 || out.Statuses[0].Status == nil {
		return normalize.Raw{}, newError(KindItemGone, "resolve "+link, nil)
	}
	return out.Statuses[0].raw(""), nil
}

func (m *Mastodon) get(ctx context.Context, e endpoint, out any, op string, paged bool) (*resty.Response, error) {
	release, err := m.limiter.acquire(ctx, e.host)
	if err != nil {
		return nil, err
	}
	defer release()

	req := e.client.R().WithContext(ctx).SetResult(out)
	if len(e.query) > 0 {
		req.SetQueryParamsFromValues(e.query)
	}
	res, err := req.Get(e.url)
	if err := classify(op, res, err, paged); err != nil {
		m.Logger.Debug("request failed", "op", op, "error", err)
		return res, err
	}
	return res, nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// nextMaxID reads the max_id of the rel="next" Link header, used by the
// endpoints whose records are not ordered by status id.
func nextMaxID(h http.Header) string {
	for _, v := range h.Values("Link") {
		match := linkNext.FindStringSubmatch(v)
		if match == nil {
			continue
		}
		u, err := url.Parse(match[1])
		if err != nil {
			continue
		}
		return u.Query().Get("max_id")
	}
	return ""
}
