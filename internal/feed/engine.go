// Package feed is the reconciliation engine. It owns one working set per
// feed, merges fetched pages and push events into it, and emits an ordered
// update descriptor for every committed change.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/feedsync/internal/events"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
	"github.com/bryan-buckman/feedsync/internal/overlay"
	"github.com/bryan-buckman/feedsync/internal/scheduler"
	"github.com/bryan-buckman/feedsync/internal/tracker"
)

var (
	// ErrSwitchingAccount is returned by operations issued between
	// WillSwitchAccount and DidSwitchAccount. They are dropped.
	ErrSwitchingAccount = errors.New("account switch in progress")
	// ErrClosed is returned once the engine was closed.
	ErrClosed = errors.New("engine closed")
	// ErrUnknownItem is returned when an item is not in the working set.
	ErrUnknownItem = errors.New("item not in working set")
	// ErrMissingDependency is returned by New when a required collaborator
	// is nil.
	ErrMissingDependency = errors.New("missing dependency")
)

// Presenter receives every committed update in commit order. Present is
// called with the feed locked and must not call back into the engine.
type Presenter interface {
	Present(d model.UpdateDescriptor)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(d model.UpdateDescriptor)

func (f PresenterFunc) Present(d model.UpdateDescriptor) { f(d) }

// Store persists working set snapshots per account. LoadSnapshot returns
// nil when there is none.
type Store interface {
	SaveSnapshot(account string, s model.FeedSnapshot) error
	LoadSnapshot(account string, feed model.FeedType) (*model.FeedSnapshot, error)
	DeleteSnapshot(account string, feed model.FeedType) error
}

// Config wires the engine to its collaborators. Fetcher and Normalizer are
// required; the rest have working defaults.
type Config struct {
	Logger     *slog.Logger
	Fetcher    fetch.Fetcher
	Items      fetch.ItemFetcher
	Resolver   fetch.Resolver
	Normalizer *normalize.Normalizer
	Overlay    *overlay.Overlay
	Store      Store
	Presenter  Presenter
	Scroll     *tracker.ScrollTracker
	Unread     *tracker.UnreadTracker
	Bus        *events.Bus

	Account       string
	NewestWindow  int
	ItemSyncDelay time.Duration
	PollInterval  func(model.FeedType) time.Duration
}

// Engine is the single writer of every feed's working set.
type Engine struct {
	Logger *slog.Logger

	fetcher    fetch.Fetcher
	items      fetch.ItemFetcher
	resolver   fetch.Resolver
	normalizer *normalize.Normalizer
	overlay    *overlay.Overlay
	presenter  Presenter
	scroll     *tracker.ScrollTracker
	unread     *tracker.UnreadTracker
	bus        *events.Bus
	poller     *scheduler.Poller
	itemSync   *scheduler.ItemSync
	persist    *persister
	window     int
	quotes     singleflight.Group

	mu      sync.Mutex
	owners  map[string]*owner
	active  model.FeedType
	account string

	switching  atomic.Bool
	generation atomic.Uint64
	closed     atomic.Bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe []func()
}

// New builds an engine and subscribes it to the bus.
func New(cfg Config) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
	}
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("%w: normalizer", ErrMissingDependency)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Overlay == nil {
		cfg.Overlay = overlay.New()
	}
	if cfg.Presenter == nil {
		cfg.Presenter = PresenterFunc(func(model.UpdateDescriptor) {})
	}
	if cfg.Scroll == nil {
		cfg.Scroll = tracker.NewScrollTracker()
	}
	if cfg.Unread == nil {
		cfg.Unread = tracker.NewUnreadTracker()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.NewestWindow <= 0 {
		cfg.NewestWindow = model.DefaultNewestWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		Logger:     cfg.Logger.With("component", "feed.Engine"),
		fetcher:    cfg.Fetcher,
		items:      cfg.Items,
		resolver:   cfg.Resolver,
		normalizer: cfg.Normalizer,
		overlay:    cfg.Overlay,
		presenter:  cfg.Presenter,
		scroll:     cfg.Scroll,
		unread:     cfg.Unread,
		bus:        cfg.Bus,
		window:     cfg.NewestWindow,
		owners:     make(map[string]*owner),
		active:     model.Following,
		account:    cfg.Account,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.poller = scheduler.NewPoller(cfg.Logger, e, cfg.PollInterval)
	e.itemSync = scheduler.NewItemSync(cfg.Logger, e, cfg.ItemSyncDelay)
	if cfg.Store != nil {
		e.persist = newPersister(cfg.Logger, cfg.Store)
		e.spawn(e.persist.run)
	}
	e.subscribe()
	return e, nil
}

// Close cancels everything in flight, flushes pending snapshots and ends
// the bus subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil
	}
	e.closed.Store(true)
	e.mu.Unlock()

	for _, unsub := range e.unsubscribe {
		unsub()
	}
	e.poller.StopAll()
	e.itemSync.CancelAll()
	for _, o := range e.allOwners() {
		o.cancelInFlight()
	}
	e.cancel()
	e.wg.Wait()
	if e.persist != nil {
		return e.persist.flush()
	}
	return nil
}

// spawn runs fn in a goroutine Close waits for. It does nothing once the
// engine is closed.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// owner returns the owner of a feed, creating it on first use.
func (e *Engine) owner(feed model.FeedType) *owner {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.owners[feed.Key()]
	if !ok {
		o = newOwner(feed)
		e.owners[feed.Key()] = o
	}
	return o
}

func (e *Engine) allOwners() []*owner {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*owner, 0, len(e.owners))
	for _, o := range e.owners {
		out = append(out, o)
	}
	return out
}

// Active returns the feed on screen.
func (e *Engine) Active() model.FeedType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Account returns the account the working sets belong to.
func (e *Engine) Account() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Items returns a copy of the displayed list of a feed.
func (e *Engine) Items(feed model.FeedType) []model.ListItem {
	o := e.owner(feed)
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.ws.list()
	out := make([]model.ListItem, len(list))
	for i, it := range list {
		out[i] = it.Clone()
	}
	return out
}

// Unread returns the new-items indicator of a feed.
func (e *Engine) Unread(feed model.FeedType) model.UnreadState {
	return e.unread.Get(feed)
}

// Overlay returns the shared local metric overlay.
func (e *Engine) Overlay() *overlay.Overlay {
	return e.overlay
}

// Scroll returns the scroll tracker.
func (e *Engine) Scroll() *tracker.ScrollTracker {
	return e.scroll
}

// UnreadTracker returns the unread tracker.
func (e *Engine) UnreadTracker() *tracker.UnreadTracker {
	return e.unread
}

// Bus returns the event bus the engine listens on.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Normalizer returns the normalizer used for every record.
func (e *Engine) Normalizer() *normalize.Normalizer {
	return e.normalizer
}

// admit checks that a mutation may start and returns the account
// generation it belongs to.
func (e *Engine) admit() (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if e.switching.Load() {
		return 0, ErrSwitchingAccount
	}
	return e.generation.Load(), nil
}

// current reports whether a mutation admitted at gen may still commit.
// Called with the owner locked.
func (e *Engine) current(gen uint64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.switching.Load() || e.generation.Load() != gen {
		return ErrSwitchingAccount
	}
	return nil
}
