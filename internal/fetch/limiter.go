package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Concurrency settings
const (
	// MaxConcurrencyPerHost limits parallel requests to any single host
	MaxConcurrencyPerHost = 2
	// DelayBetweenHostRequests is the minimum spacing of requests to the same host
	DelayBetweenHostRequests = 250 * time.Millisecond
)

// hostLimiter paces requests per host so polling many feeds of one server
// does not trip its rate limits.
type hostLimiter struct {
	mu         sync.Mutex
	semaphores map[string]chan struct{}
	pacers     map[string]*rate.Limiter
	delay      time.Duration
}

func newHostLimiter(delay time.Duration) *hostLimiter {
	return &hostLimiter{
		semaphores: make(map[string]chan struct{}),
		pacers:     make(map[string]*rate.Limiter),
		delay:      delay,
	}
}

// acquire gets a slot for the host, blocking if necessary, and returns the
// function releasing it.
func (hl *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerHost)
		hl.semaphores[host] = sem
	}
	pacer, ok := hl.pacers[host]
	if !ok {
		pacer = rate.NewLimiter(rate.Every(hl.delay), 1)
		hl.pacers[host] = pacer
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := pacer.Wait(ctx); err != nil {
		<-sem
		return nil, err
	}
	return func() { <-sem }, nil
}

// hostOf gets the host from a URL.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
