// Package events is an in-process broadcast of account-wide changes that
// every open feed has to react to.
package events

import (
	"sync"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ModerationChanged is published after the blocked or muted sets changed.
type ModerationChanged struct{}

// FollowStatusChanged is published after the user followed or unfollowed an
// account.
type FollowStatusChanged struct {
	Account   string
	Following bool
}

// PostUpdated is published when a post changed outside of a feed fetch, for
// example after a like or a deletion.
type PostUpdated struct {
	Post    *model.PostRecord
	Deleted bool
}

// Topic fans values out to every subscriber. Publish blocks until each
// subscriber accepted the value or unsubscribed.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs map[*subscription[T]]struct{}
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// Subscribe returns a channel of published values and a function ending the
// subscription. The channel is never closed.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	s := &subscription[T]{ch: make(chan T, buffer), done: make(chan struct{})}
	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[*subscription[T]]struct{})
	}
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	return s.ch, func() {
		s.once.Do(func() {
			close(s.done)
			t.mu.Lock()
			delete(t.subs, s)
			t.mu.Unlock()
		})
	}
}

// Publish delivers v to every current subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]*subscription[T], 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.done:
		}
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the topics of the application.
type Bus struct {
	Moderation Topic[ModerationChanged]
	Follows    Topic[FollowStatusChanged]
	Posts      Topic[PostUpdated]
}

func NewBus() *Bus {
	return &Bus{}
}
