package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-mastodon"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func uid(id string) string {
	return "https://home.example/s/" + id
}

func status(id, acct string) *mastodon.Status {
	return &mastodon.Status{
		ID:        mastodon.ID(id),
		URI:       uid(id),
		URL:       uid(id),
		CreatedAt: t0,
		Content:   "post " + id,
		Account:   mastodon.Account{ID: mastodon.ID("acc-" + acct), Acct: acct, Username: acct},
	}
}

func page(next string, ids ...string) fetch.Page {
	p := fetch.Page{NextCursor: next}
	for _, id := range ids {
		p.Records = append(p.Records, normalize.Raw{Status: status(id, "alice")})
	}
	return p
}

func notification(id, typ string) *mastodon.Notification {
	n := &mastodon.Notification{
		ID:        mastodon.ID(id),
		Type:      typ,
		CreatedAt: t0,
		Account:   mastodon.Account{ID: "acc-bob", Acct: "bob", Username: "bob"},
	}
	if typ == "mention" || typ == "favourite" {
		n.Status = status("n"+id, "bob")
	}
	return n
}

type response struct {
	page fetch.Page
	err  error
	gate chan struct{}
	// stubborn gates ignore cancellation.
	stubborn bool
}

// fakeFetcher serves scripted pages keyed by feed key and cursor.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string]response)}
}

func fkey(feed model.FeedType, cursor string) string {
	return feed.Key() + "|" + cursor
}

func (f *fakeFetcher) serve(feed model.FeedType, cursor string, p fetch.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fkey(feed, cursor)] = response{page: p}
}

func (f *fakeFetcher) fail(feed model.FeedType, cursor string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fkey(feed, cursor)] = response{err: err}
}

// hold makes the next fetches of feed/cursor wait until the returned
// channel is closed.
func (f *fakeFetcher) hold(feed model.FeedType, cursor string, p fetch.Page, stubborn bool) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fkey(feed, cursor)] = response{page: p, gate: gate, stubborn: stubborn}
	return gate
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) Fetch(ctx context.Context, feed model.FeedType, rng fetch.Range) (fetch.Page, error) {
	f.mu.Lock()
	r := f.responses[fkey(feed, rng.Cursor)]
	f.calls = append(f.calls, fkey(feed, rng.Cursor))
	f.mu.Unlock()
	if r.gate != nil {
		if r.stubborn {
			<-r.gate
		} else {
			select {
			case <-r.gate:
			case <-ctx.Done():
				return fetch.Page{}, ctx.Err()
			}
		}
	}
	return r.page, r.err
}

type fakeItems struct {
	mu    sync.Mutex
	items map[string]normalize.Raw
	err   error
}

func (f *fakeItems) FetchItem(_ context.Context, post *model.PostRecord) (normalize.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return normalize.Raw{}, f.err
	}
	raw, ok := f.items[post.ID]
	if !ok {
		return normalize.Raw{}, &fetch.Error{Kind: fetch.KindItemGone, Op: "fetch item"}
	}
	return raw, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	raws  map[string]normalize.Raw
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (normalize.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	raw, ok := f.raws[url]
	if !ok {
		return normalize.Raw{}, &fetch.Error{Kind: fetch.KindItemGone, Op: "resolve"}
	}
	return raw, nil
}

// recorder collects emitted descriptors.
type recorder struct {
	mu sync.Mutex
	ds []model.UpdateDescriptor
}

func (r *recorder) Present(d model.UpdateDescriptor) {
	r.mu.Lock()
	r.ds = append(r.ds, d)
	r.mu.Unlock()
}

func (r *recorder) all() []model.UpdateDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.UpdateDescriptor(nil), r.ds...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ds)
}

func (r *recorder) last() model.UpdateDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ds) == 0 {
		return model.UpdateDescriptor{}
	}
	return r.ds[len(r.ds)-1]
}

// memStore keeps snapshots in memory.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]model.FeedSnapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]model.FeedSnapshot)}
}

func (m *memStore) SaveSnapshot(account string, s model.FeedSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[account+"|"+s.Feed.Key()] = s
	return nil
}

func (m *memStore) LoadSnapshot(account string, feed model.FeedType) (*model.FeedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[account+"|"+feed.Key()]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) DeleteSnapshot(account string, feed model.FeedType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, account+"|"+feed.Key())
	return nil
}

type harness struct {
	engine   *Engine
	fetcher  *fakeFetcher
	items    *fakeItems
	resolver *fakeResolver
	rec      *recorder
	store    *memStore
	sets     *normalize.Sets
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fetcher:  newFakeFetcher(),
		items:    &fakeItems{items: make(map[string]normalize.Raw)},
		resolver: &fakeResolver{raws: make(map[string]normalize.Raw)},
		rec:      &recorder{},
		store:    newMemStore(),
		sets:     normalize.NewSets(),
	}
	n, err := normalize.New(slog.Default(), h.sets, 16, normalize.Options{CurrentUserID: "acc-me"})
	require.NoError(t, err)
	cfg := Config{
		Fetcher:      h.fetcher,
		Items:        h.items,
		Resolver:     h.resolver,
		Normalizer:   n,
		Store:        h.store,
		Presenter:    h.rec,
		Account:      "me@home.example",
		PollInterval: func(model.FeedType) time.Duration { return time.Hour },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.engine, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func ids(items []model.ListItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID()
	}
	return out
}

func uids(ids ...string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if len(id) > 0 && id[0] == '~' {
			out[i] = id
			continue
		}
		out[i] = uid(id)
	}
	return out
}
