package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-mastodon"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feed"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]fetch.Page
}

func (f *stubFetcher) Fetch(_ context.Context, ft model.FeedType, rng fetch.Range) (fetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[ft.Key()+"|"+rng.Cursor]
	if !ok {
		return fetch.Page{}, &fetch.Error{Kind: fetch.KindNetwork, Op: "stub"}
	}
	return p, nil
}

func statuses(next string, ids ...string) fetch.Page {
	p := fetch.Page{NextCursor: next}
	for _, id := range ids {
		p.Records = append(p.Records, normalize.Raw{Status: &mastodon.Status{
			ID:        mastodon.ID(id),
			URI:       "https://home.example/s/" + id,
			URL:       "https://home.example/s/" + id,
			CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			Content:   "post " + id,
			Account:   mastodon.Account{ID: "acc-alice", Acct: "alice", Username: "alice"},
		}})
	}
	return p
}

type testServer struct {
	srv      *Server
	fetcher  *stubFetcher
	engine   *feed.Engine
	store    *database.DB
	hub      *Hub
	interval time.Duration
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := database.New(filepath.Join(t.TempDir(), "feedsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sets := normalize.NewSets()
	n, err := normalize.New(slog.Default(), sets, 16, normalize.Options{CurrentUserID: "acc-me", ShowOriginalTimestamp: true})
	require.NoError(t, err)

	fetcher := &stubFetcher{pages: map[string]fetch.Page{
		"following|": statuses("3", "1", "2", "3"),
	}}
	hub := NewHub(slog.Default(), 0)
	engine, err := feed.New(feed.Config{
		Fetcher:      fetcher,
		Normalizer:   n,
		Store:        store,
		Presenter:    hub,
		Account:      "me@home.example",
		PollInterval: func(model.FeedType) time.Duration { return time.Hour },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ts := &testServer{engine: engine, store: store, hub: hub, fetcher: fetcher}
	ts.srv, err = New(slog.Default(), Options{
		Engine:            engine,
		Store:             store,
		Sets:              sets,
		Hub:               hub,
		OnPollingInterval: func(d time.Duration) { ts.interval = d },
	})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "SQLite", body["database"])
	require.Equal(t, "me@home.example", body["account"])
}

func TestRefreshAndRead(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/feeds/following/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/feeds/following", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Items []model.ListItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Items, 4)
	require.Equal(t, model.ItemLoadMore, got.Items[3].Kind)

	rec = ts.do(t, http.MethodPost, "/api/feeds/following/scroll", map[string]interface{}{
		"boundary": 100,
		"rows":     []map[string]interface{}{{"id": "https://home.example/s/2", "origin": 120}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["cached"])
	pos, ok := ts.engine.Scroll().Get(model.Following)
	require.True(t, ok)
	require.Equal(t, "https://home.example/s/2", pos.AnchorID)
	require.Equal(t, float64(20), pos.Offset)

	rec = ts.do(t, http.MethodPost, "/api/feeds/following/restore", map[string]interface{}{
		"heights": map[string]float64{"https://home.example/s/1": 50},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["restored"])
	require.Equal(t, float64(30), body["boundary"])

	rows := []map[string]interface{}{
		{"id": "https://home.example/s/1", "origin": 90},
		{"id": "https://home.example/s/2", "origin": 140},
	}
	rec = ts.do(t, http.MethodPost, "/api/feeds/following/scroll", map[string]interface{}{"boundary": 100, "rows": rows})
	require.Equal(t, http.StatusOK, rec.Code)
	pos, _ = ts.engine.Scroll().Get(model.Following)
	require.Equal(t, model.ScrollPosition{AnchorID: "https://home.example/s/2", Offset: 40}, pos)

	rec = ts.do(t, http.MethodPost, "/api/feeds/following/scroll", map[string]interface{}{"boundary": 100, "rows": rows, "reference": "top"})
	require.Equal(t, http.StatusOK, rec.Code)
	pos, _ = ts.engine.Scroll().Get(model.Following)
	require.Equal(t, model.ScrollPosition{AnchorID: "https://home.example/s/1", Offset: -10}, pos)

	rec = ts.do(t, http.MethodPost, "/api/feeds/following/scroll", map[string]interface{}{"boundary": 100, "rows": rows, "reference": "middle"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestCountsSingleNewItem(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/feeds/following/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ts.fetcher.mu.Lock()
	ts.fetcher.pages["following|"] = statuses("3", "4", "1", "2", "3")
	ts.fetcher.mu.Unlock()
	rec = ts.do(t, http.MethodPost, "/api/feeds/following/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Unread model.UnreadState `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Unread.Enabled)
	require.Equal(t, 1, got.Unread.Count)
	require.Equal(t, []string{"https://home.example/s/4"}, got.Unread.Previews)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/feeds/bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/actions", map[string]interface{}{"metric": "like", "id": "missing", "value": true})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/actions", map[string]interface{}{"metric": "boost", "id": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/feeds/federated/refresh", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/account/will-switch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/feeds/following/refresh", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/account/did-switch", map[string]string{"account": "other@home.example"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "other@home.example", ts.engine.Account())
}

func TestActionTogglesOverlay(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/feeds/following/refresh", nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/actions", map[string]interface{}{
		"metric": "bookmark", "id": "https://home.example/s/1", "value": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v, ok := ts.engine.Overlay().Get(model.MetricBookmark, "https://home.example/s/1", false)
	require.True(t, ok)
	require.True(t, v)
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/settings", map[string]interface{}{
		"polling_interval":        5,
		"show_original_timestamp": false,
		"filters":                 []normalize.Filter{{Title: "spoilers", Action: model.FilterWarn, Keywords: []string{"finale"}}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(10), decodeBody(t, rec)["polling_interval"])
	require.Equal(t, 10*time.Second, ts.interval)

	opts := ts.engine.Normalizer().Options()
	require.False(t, opts.ShowOriginalTimestamp)
	require.Len(t, opts.Filters, 1)

	rec = ts.do(t, http.MethodGet, "/api/settings", nil)
	body := decodeBody(t, rec)
	require.Equal(t, float64(10), body["polling_interval"])
	require.Equal(t, false, body["show_original_timestamp"])

	filters, err := ts.store.GetFilters()
	require.NoError(t, err)
	require.Equal(t, "spoilers", filters[0].Title)
}

func TestModeration(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/feeds/following/refresh", nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/moderation", map[string]interface{}{"handle": "alice", "blocked": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		items := ts.engine.Items(model.Following)
		return len(items) > 0 && items[0].Post.IsBlocked
	}, time.Second, 5*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, []interface{}{"alice"}, decodeBody(t, rec)["blocked"])
}

func TestMenuAndOPML(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/feeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["feeds"], len(DefaultMenu))

	channel := model.Channel("https://blog.example/feed.xml", "Blog", "https://blog.example/feed.xml")
	rec = ts.do(t, http.MethodPut, "/api/feeds", map[string]interface{}{
		"feeds": []model.FeedType{model.Following, model.Hashtag("golang"), channel, model.Following},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(3), decodeBody(t, rec)["feeds"])

	// Channel keys carry a URL and travel path escaped.
	rec = ts.do(t, http.MethodGet, "/api/feeds/channel:https%3A%2F%2Fblog.example%2Ffeed.xml", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Feed model.FeedType `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Blog", got.Feed.Title)

	rec = ts.do(t, http.MethodGet, "/api/export-opml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "blog.example/feed.xml")
	exported := rec.Body.Bytes()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "feeds.opml")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Replace(exported, []byte("golang"), []byte("rust"), -1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, float64(1), decodeBody(t, rr)["imported"])

	menu, err := ts.store.GetMenu("me@home.example")
	require.NoError(t, err)
	require.Len(t, menu, 4)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.srv.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	require.Equal(t, "event: ready", lines.Text())
	require.Eventually(t, func() bool { return ts.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		_ = ts.engine.LoadListData(context.Background(), model.Following, feed.FetchRefresh)
	}()

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: {\"feed\"") {
			continue
		}
		var d model.UpdateDescriptor
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &d))
		require.Equal(t, model.KindFollowing, d.Feed.Kind)
		require.Len(t, d.Items, 4)
		return
	}
	t.Fatal("stream ended without an update")
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(slog.Default(), 1)
	slow, unsubSlow := hub.Subscribe()
	defer unsubSlow()
	fast, unsubFast := hub.Subscribe()
	require.Equal(t, 2, hub.Len())

	hub.Present(model.UpdateDescriptor{Type: model.UpdateInsert})
	<-fast
	hub.Present(model.UpdateDescriptor{Type: model.UpdateAppend})

	require.Equal(t, 1, hub.Len())
	_, ok := <-slow
	require.True(t, ok)
	_, ok = <-slow
	require.False(t, ok)

	d := <-fast
	require.Equal(t, model.UpdateAppend, d.Type)
	unsubFast()
	unsubFast()
	require.Zero(t, hub.Len())
}
