package tracker

import (
	"slices"
	"sync"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type unreadEntry struct {
	state model.UnreadState
	atTop bool
}

// UnreadTracker counts new items per feed while the user is away from the
// top of the list.
type UnreadTracker struct {
	mu      sync.Mutex
	entries map[string]*unreadEntry
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{entries: make(map[string]*unreadEntry)}
}

func (u *UnreadTracker) entry(feed model.FeedType) *unreadEntry {
	e, ok := u.entries[feed.Key()]
	if !ok {
		e = &unreadEntry{}
		u.entries[feed.Key()] = e
	}
	return e
}

// Add accounts for n new items. Nothing changes while the user is at the
// top. A disabled indicator only switches on once n reaches threshold; a
// threshold of 0 uses the feed default. Previews are the identities of the
// new items, newest first.
func (u *UnreadTracker) Add(feed model.FeedType, n, threshold int, previews []string) model.UnreadState {
	if threshold <= 0 {
		threshold = feed.NewItemsThreshold()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	e := u.entry(feed)
	if e.atTop || n <= 0 {
		return clone(e.state)
	}
	if !e.state.Enabled && n < threshold {
		return clone(e.state)
	}
	e.state.Enabled = true
	e.state.Count += n

	merged := make([]string, 0, model.MaxUnreadPreviews)
	for _, id := range append(slices.Clone(previews), e.state.Previews...) {
		if len(merged) == model.MaxUnreadPreviews {
			break
		}
		if !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	e.state.Previews = merged
	return clone(e.state)
}

// Get returns the state of a feed.
func (u *UnreadTracker) Get(feed model.FeedType) model.UnreadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return clone(u.entry(feed).state)
}

// ScrolledToTop resets the indicator and stops counting until the user
// scrolls away again.
func (u *UnreadTracker) ScrolledToTop(feed model.FeedType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e := u.entry(feed)
	e.atTop = true
	e.state = model.UnreadState{}
}

// ScrolledAway resumes counting.
func (u *UnreadTracker) ScrolledAway(feed model.FeedType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entry(feed).atTop = false
}

// Dismiss resets the indicator without changing the scroll state.
func (u *UnreadTracker) Dismiss(feed model.FeedType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entry(feed).state = model.UnreadState{}
}

// Clear forgets everything about a feed.
func (u *UnreadTracker) Clear(feed model.FeedType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.entries, feed.Key())
}

// Reset forgets every feed, used on account switches.
func (u *UnreadTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	clear(u.entries)
}

func clone(s model.UnreadState) model.UnreadState {
	s.Previews = slices.Clone(s.Previews)
	return s
}
