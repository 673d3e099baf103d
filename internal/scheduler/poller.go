// Package scheduler drives background refreshes: per-feed polling and
// debounced re-syncs of the items on screen.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/feedsync/internal/metrics"
	"github.com/bryan-buckman/feedsync/internal/model"
)

type backgroundKey struct{}

// Background marks ctx as belonging to a refresh the user did not ask for.
func Background(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundKey{}, true)
}

// IsBackground reports whether ctx was marked by Background.
func IsBackground(ctx context.Context) bool {
	v, _ := ctx.Value(backgroundKey{}).(bool)
	return v
}

// Refresher loads the newest page of a feed.
type Refresher interface {
	LoadLatest(ctx context.Context, feed model.FeedType, threshold int) error
}

// PollTimeout bounds a single polling refresh.
const PollTimeout = 30 * time.Second

// Initial delays before the first refresh of a polling loop.
const (
	// SwitchDelay applies when a feed becomes active.
	SwitchDelay = time.Second
	// ForegroundDelay applies when polling resumes in the foreground.
	ForegroundDelay = 2 * time.Second
)

// Poller runs one polling loop per started feed.
type Poller struct {
	Logger *slog.Logger

	refresher Refresher
	interval  func(model.FeedType) time.Duration

	mu    sync.Mutex
	loops map[string]*pollLoop
}

type pollLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a background poller. interval returns the tick period
// of a feed; nil uses the feed's own polling frequency.
func NewPoller(logger *slog.Logger, r Refresher, interval func(model.FeedType) time.Duration) *Poller {
	if interval == nil {
		interval = model.FeedType.PollingFrequency
	}
	return &Poller{
		Logger:    logger.With("component", "scheduler.Poller"),
		refresher: r,
		interval:  interval,
		loops:     make(map[string]*pollLoop),
	}
}

// Start begins polling a feed. The first refresh runs after initialDelay,
// the next ones every interval. Starting a running feed or a feed that is
// not polled does nothing.
func (p *Poller) Start(feed model.FeedType, initialDelay time.Duration) {
	if !feed.ShouldPoll() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loops[feed.Key()]; ok {
		return
	}
	ctx, cancel := context.WithCancel(Background(context.Background()))
	l := &pollLoop{cancel: cancel, done: make(chan struct{})}
	p.loops[feed.Key()] = l
	go p.run(ctx, feed, max(initialDelay, 0), l)
}

func (p *Poller) run(ctx context.Context, feed model.FeedType, initialDelay time.Duration, l *pollLoop) {
	defer close(l.done)
	every := p.interval(feed)
	p.Logger.Debug("polling started", "feed", feed.Key(), "interval", every, "delay", initialDelay)
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Logger.Debug("polling stopped", "feed", feed.Key())
			return
		case <-timer.C:
		}
		metrics.PollTicks.WithLabelValues(string(feed.Kind)).Inc()
		tickCtx, cancel := context.WithTimeout(ctx, PollTimeout)
		if err := p.refresher.LoadLatest(tickCtx, feed, 1); err != nil && ctx.Err() == nil {
			p.Logger.Debug("poll failed", "feed", feed.Key(), "error", err)
		}
		cancel()
		timer.Reset(every)
	}
}

// Stop ends polling of a feed and cancels its in-flight refresh. It returns
// once the loop exited.
func (p *Poller) Stop(feed model.FeedType) {
	p.mu.Lock()
	l, ok := p.loops[feed.Key()]
	delete(p.loops, feed.Key())
	p.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// StopAll stops every loop.
func (p *Poller) StopAll() {
	p.mu.Lock()
	loops := p.loops
	p.loops = make(map[string]*pollLoop)
	p.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// Running reports whether a feed is being polled.
func (p *Poller) Running(feed model.FeedType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[feed.Key()]
	return ok
}
