package normalize

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Moderation exposes the blocked and muted account handles of the current
// user. Lookups are synchronous.
type Moderation interface {
	IsBlocked(handle string) bool
	IsMuted(handle string) bool
}

// Sets is an in-memory Moderation.
type Sets struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	muted   map[string]struct{}
}

func NewSets() *Sets {
	return &Sets{
		blocked: map[string]struct{}{},
		muted:   map[string]struct{}{},
	}
}

func canonicalHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func (s *Sets) IsBlocked(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[canonicalHandle(handle)]
	return ok
}

func (s *Sets) IsMuted(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.muted[canonicalHandle(handle)]
	return ok
}

// SetBlocked adds or removes a handle from the blocked set.
func (s *Sets) SetBlocked(handle string, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocked {
		s.blocked[canonicalHandle(handle)] = struct{}{}
	} else {
		delete(s.blocked, canonicalHandle(handle))
	}
}

// SetMuted adds or removes a handle from the muted set.
func (s *Sets) SetMuted(handle string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if muted {
		s.muted[canonicalHandle(handle)] = struct{}{}
	} else {
		delete(s.muted, canonicalHandle(handle))
	}
}

// Replace swaps both sets, used when the account changes.
func (s *Sets) Replace(blocked, muted []string) {
	b := lo.SliceToMap(blocked, func(h string) (string, struct{}) { return canonicalHandle(h), struct{}{} })
	m := lo.SliceToMap(muted, func(h string) (string, struct{}) { return canonicalHandle(h), struct{}{} })
	s.mu.Lock()
	s.blocked, s.muted = b, m
	s.mu.Unlock()
}

// Snapshot returns sorted copies of both sets.
func (s *Sets) Snapshot() (blocked, muted []string) {
	s.mu.RLock()
	blocked, muted = lo.Keys(s.blocked), lo.Keys(s.muted)
	s.mu.RUnlock()
	slices.Sort(blocked)
	slices.Sort(muted)
	return blocked, muted
}
