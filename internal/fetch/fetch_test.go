package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
)

func jsonHandler(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	})
}

const statusJSON = `{"id":"%s","uri":"https://m.example/s/%s","url":"https://m.example/@a/%s","created_at":"2024-05-01T10:00:00.000Z","content":"post %s","account":{"id":"1","acct":"a","username":"a"},"application":{"name":"Ivory"},"favourites_count":2,"mentions":[%s]}`

func status(id string, mentioned bool) string {
	m := ""
	if mentioned {
		m = `{"id":"9","acct":"b","username":"b","url":"u"}`
	}
	return fmt.Sprintf(statusJSON, id, id, id, id, m)
}

func TestMastodonTimeline(t *testing.T) {
	var lastQuery atomic.Value
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/timelines/home": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			lastQuery.Store(r.URL.RawQuery)
			fmt.Fprintf(w, "[%s,%s]", status("30", false), status("20", false))
		},
	}))
	defer srv.Close()

	m := NewMastodon(slog.Default(), MastodonConfig{BaseURL: srv.URL, Token: "secret", PageSize: 2})
	defer m.Close()

	page, err := m.Fetch(context.Background(), model.Following, Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, "30", string(page.Records[0].Status.ID))
	require.Equal(t, "Ivory", page.Records[0].Application)
	require.Equal(t, "20", page.NextCursor)

	_, err = m.Fetch(context.Background(), model.Following, Range{Cursor: "20"})
	require.NoError(t, err)
	require.Contains(t, lastQuery.Load(), "max_id=20")
}

func TestMastodonLinkHeaderPaging(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/favourites": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Link", `<https://m.example/api/v1/favourites?max_id=777>; rel="next", <https://m.example/api/v1/favourites?min_id=900>; rel="prev"`)
			fmt.Fprintf(w, "[%s]", status("5", false))
		},
	}))
	defer srv.Close()

	m := NewMastodon(slog.Default(), MastodonConfig{BaseURL: srv.URL})
	page, err := m.Fetch(context.Background(), model.Likes, Newest)
	require.NoError(t, err)
	require.Equal(t, "777", page.NextCursor)
}

func TestMastodonNotificationsAndMentions(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/notifications": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "mention", r.URL.Query().Get("types[]"))
			fmt.Fprintf(w, `[{"id":"n2","type":"mention","created_at":"2024-05-01T10:00:00Z","account":{"id":"3","acct":"c"},"status":%s}]`, status("40", true))
		},
		"/api/v1/accounts/me/statuses": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "[%s,%s]", status("8", true), status("7", false))
		},
	}))
	defer srv.Close()

	m := NewMastodon(slog.Default(), MastodonConfig{BaseURL: srv.URL, AccountID: "me"})
	page, err := m.Fetch(context.Background(), model.MentionsIn, Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "mention", page.Records[0].Notification.Type)
	require.Equal(t, "n2", page.NextCursor)

	page, err = m.Fetch(context.Background(), model.MentionsOut, Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "7", page.NextCursor)
}

func TestMastodonErrorClassification(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/timelines/home": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("max_id") != "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"/api/v1/timelines/public": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		},
		"/api/v1/statuses/gone": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"/api/v1/bookmarks": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	}))
	defer srv.Close()

	m := NewMastodon(slog.Default(), MastodonConfig{BaseURL: srv.URL})
	ctx := context.Background()

	_, err := m.Fetch(ctx, model.Following, Newest)
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = m.Fetch(ctx, model.Following, Range{Cursor: "1"})
	require.ErrorIs(t, err, ErrStaleCursor)

	_, err = m.Fetch(ctx, model.Federated, Newest)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = m.FetchItem(ctx, &model.PostRecord{ID: "gone"})
	require.ErrorIs(t, err, ErrItemGone)
	require.Equal(t, KindItemGone, KindOf(err))

	_, err = m.Fetch(ctx, model.Bookmarks, Newest)
	require.ErrorIs(t, err, ErrNetwork)

	_, err = m.Fetch(ctx, model.ForYou, Newest)
	require.ErrorIs(t, err, ErrUnsupportedFeed)
}

func TestMastodonCommunityUsesInstance(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/timelines/public": func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			require.Equal(t, "true", r.URL.Query().Get("local"))
			require.Empty(t, r.Header.Get("Authorization"))
			fmt.Fprintf(w, "[%s]", status("1", false))
		},
	}))
	defer srv.Close()

	instance := strings.TrimPrefix(srv.URL, "http://")
	m := NewMastodon(slog.Default(), MastodonConfig{BaseURL: "http://unused.invalid", Token: "x", Scheme: "http"})
	page, err := m.Fetch(context.Background(), model.Community(instance), Newest)
	require.NoError(t, err)
	require.Equal(t, instance, page.Records[0].InstanceName)
	require.Equal(t, int32(1), hits.Load())
}

func TestBlueskyTimeline(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, map[string]func(http.ResponseWriter, *http.Request){
		getTimeline: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"cursor":"c2","feed":[{"post":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"x","indexedAt":"2024-05-01T10:00:00Z","author":{"did":"did:plc:a","handle":"a.test"},"record":{"$type":"app.bsky.feed.post","text":"hi","createdAt":"2024-05-01T10:00:00Z"}}}]}`))
		},
		getPosts: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"posts":[]}`))
		},
	}))
	defer srv.Close()

	b := NewBluesky(slog.Default(), BlueskyConfig{BaseURL: srv.URL})
	defer b.Close()

	page, err := b.Fetch(context.Background(), model.Following, Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "c2", page.NextCursor)
	require.Equal(t, "at://did:plc:a/app.bsky.feed.post/1", page.Records[0].Post.Post.Uri)

	_, err = b.FetchItem(context.Background(), &model.PostRecord{ID: "at://gone"})
	require.ErrorIs(t, err, ErrItemGone)

	_, err = b.Fetch(context.Background(), model.Activity, Newest)
	require.ErrorIs(t, err, ErrUnsupportedFeed)
}

const rss = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title>
<item><guid>a</guid><title>A</title><link>https://blog.example/a</link><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
<item><guid>c</guid><title>C</title><link>https://blog.example/c</link><pubDate>Wed, 03 Jan 2024 10:00:00 GMT</pubDate></item>
<item><guid>b</guid><title>B</title><link>https://blog.example/b</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`

func TestChannelPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	c := NewChannel(slog.Default(), 2)
	feed := model.Channel("blog", "Blog", srv.URL)

	page, err := c.Fetch(context.Background(), feed, Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, "c", page.Records[0].Entry.GUID)
	require.Equal(t, "b", page.Records[1].Entry.GUID)
	require.Equal(t, "2", page.NextCursor)

	page, err = c.Fetch(context.Background(), feed, Range{Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Empty(t, page.NextCursor)

	_, err = c.Fetch(context.Background(), feed, Range{Cursor: "99"})
	require.ErrorIs(t, err, ErrStaleCursor)
}

func TestRouter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	r := &Router{Channels: NewChannel(slog.Default(), 10)}
	page, err := r.Fetch(context.Background(), model.Channel("x", "X", srv.URL), Newest)
	require.NoError(t, err)
	require.Len(t, page.Records, 3)

	_, err = r.Fetch(context.Background(), model.Following, Newest)
	require.ErrorIs(t, err, ErrUnsupportedFeed)

	_, err = r.FetchItem(context.Background(), &model.PostRecord{Source: model.SchemaBluesky})
	require.ErrorIs(t, err, ErrUnsupportedFeed)
}

func TestCursorAfter(t *testing.T) {
	last := model.PostItem(&model.PostRecord{UniqueID: "u", CursorID: "109"})
	masto := NewMastodon(slog.Default(), MastodonConfig{BaseURL: "http://unused.invalid"})
	defer masto.Close()

	c, ok := masto.CursorAfter(model.Following, last)
	require.True(t, ok)
	require.Equal(t, "109", c)
	for _, f := range []model.FeedType{model.Likes, model.Bookmarks, model.Trending("x.example"), model.ForYou} {
		_, ok := masto.CursorAfter(f, last)
		require.False(t, ok, f.Key())
	}

	bsky := &Router{Primary: NewBluesky(slog.Default(), BlueskyConfig{BaseURL: "http://unused.invalid"})}
	_, ok = bsky.CursorAfter(model.Following, last)
	require.False(t, ok)

	r := &Router{Primary: masto, Channels: NewChannel(slog.Default(), 10)}
	_, ok = r.CursorAfter(model.Channel("x", "X", "https://blog.example/feed.xml"), last)
	require.False(t, ok)
	c, ok = r.CursorAfter(model.Hashtag("go"), last)
	require.True(t, ok)
	require.Equal(t, "109", c)
}
