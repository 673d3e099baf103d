// Package tracker keeps per-feed scroll anchors and unread indicators in
// step with working set updates.
package tracker

import (
	"sync"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// DefaultRowHeight is the estimate used for rows never measured.
const DefaultRowHeight = 310

// Row is a laid out row in content coordinates.
type Row struct {
	ID     string  `json:"id"`
	Origin float64 `json:"origin"`
}

// Reference selects the visible row a viewport is anchored on.
type Reference string

const (
	// ReferenceBottom anchors on the last visible row.
	ReferenceBottom Reference = "bottom"
	// ReferenceTop anchors on the row crossing the chrome boundary.
	ReferenceTop Reference = "top"
)

// Valid reports whether r is a known reference. Empty means bottom.
func (r Reference) Valid() bool {
	switch r {
	case "", ReferenceBottom, ReferenceTop:
		return true
	}
	return false
}

// Viewport describes what the presentation layer shows. Boundary is the
// content coordinate of the lower edge of the top chrome; Rows are the
// visible rows in display order.
type Viewport struct {
	Boundary  float64   `json:"boundary"`
	Rows      []Row     `json:"rows"`
	Reference Reference `json:"reference,omitempty"`
}

// Layout maps a row index of a list to its origin.
type Layout interface {
	Origin(ids []string, index int) float64
}

// HeightCache is a Layout built from measured row heights.
type HeightCache struct {
	mu       sync.RWMutex
	heights  map[string]float64
	Estimate float64
}

func NewHeightCache() *HeightCache {
	return &HeightCache{heights: make(map[string]float64), Estimate: DefaultRowHeight}
}

// Record stores the measured height of a row.
func (h *HeightCache) Record(id string, height float64) {
	h.mu.Lock()
	h.heights[id] = height
	h.mu.Unlock()
}

// Forget drops heights of rows no longer displayed.
func (h *HeightCache) Forget(ids ...string) {
	h.mu.Lock()
	for _, id := range ids {
		delete(h.heights, id)
	}
	h.mu.Unlock()
}

// Origin implements Layout.
func (h *HeightCache) Origin(ids []string, index int) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var y float64
	for _, id := range ids[:min(index, len(ids))] {
		if v, ok := h.heights[id]; ok {
			y += v
		} else {
			y += h.Estimate
		}
	}
	return y
}

// ScrollTracker stores one ScrollPosition per feed.
type ScrollTracker struct {
	mu        sync.Mutex
	positions map[string]model.ScrollPosition
	lastIDs   map[string][]string
}

func NewScrollTracker() *ScrollTracker {
	return &ScrollTracker{
		positions: make(map[string]model.ScrollPosition),
		lastIDs:   make(map[string][]string),
	}
}

// Cache records the anchor of a viewport. The bottom reference, the
// default, picks the last visible row; the top reference picks the row
// crossing the chrome boundary, or the first visible row. Offset is the
// row origin minus the boundary.
func (s *ScrollTracker) Cache(feed model.FeedType, vp Viewport) (model.ScrollPosition, bool) {
	if len(vp.Rows) == 0 || !vp.Reference.Valid() {
		return model.ScrollPosition{}, false
	}
	anchor := vp.Rows[len(vp.Rows)-1]
	if vp.Reference == ReferenceTop {
		anchor = vp.Rows[0]
		for _, r := range vp.Rows {
			if r.Origin > vp.Boundary {
				break
			}
			anchor = r
		}
	}
	pos := model.ScrollPosition{AnchorID: anchor.ID, Offset: anchor.Origin - vp.Boundary}
	s.Set(feed, pos)
	return pos, true
}

// Set stores a position.
func (s *ScrollTracker) Set(feed model.FeedType, pos model.ScrollPosition) {
	s.mu.Lock()
	s.positions[feed.Key()] = pos
	s.mu.Unlock()
}

// Get returns the stored position.
func (s *ScrollTracker) Get(feed model.FeedType) (model.ScrollPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[feed.Key()]
	return pos, ok
}

// Clear forgets the position of a feed.
func (s *ScrollTracker) Clear(feed model.FeedType) {
	s.mu.Lock()
	delete(s.positions, feed.Key())
	s.mu.Unlock()
}

// Restore returns the boundary coordinate that puts the anchor back where it
// was on screen, given the current rows and their layout.
func (s *ScrollTracker) Restore(feed model.FeedType, ids []string, layout Layout) (float64, bool) {
	pos, ok := s.Get(feed)
	if !ok || pos.IsZero() {
		return 0, false
	}
	for i, id := range ids {
		if id == pos.AnchorID {
			return layout.Origin(ids, i) - pos.Offset, true
		}
	}
	return 0, false
}

// Observe keeps the anchor valid across an update. When the anchor row was
// removed, the position moves to the closest surviving row, preferring
// older neighbours.
func (s *ScrollTracker) Observe(d model.UpdateDescriptor) {
	key := d.Feed.Key()
	ids := d.IDs()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lastIDs[key]
	s.lastIDs[key] = ids

	pos, ok := s.positions[key]
	if !ok || pos.IsZero() {
		return
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	if _, ok := present[pos.AnchorID]; ok {
		return
	}

	at := -1
	for i, id := range prev {
		if id == pos.AnchorID {
			at = i
			break
		}
	}
	if at >= 0 {
		for i := at + 1; i < len(prev); i++ {
			if _, ok := present[prev[i]]; ok && !isSentinel(prev[i]) {
				s.positions[key] = model.ScrollPosition{AnchorID: prev[i], Offset: pos.Offset}
				return
			}
		}
		for i := at - 1; i >= 0; i-- {
			if _, ok := present[prev[i]]; ok && !isSentinel(prev[i]) {
				s.positions[key] = model.ScrollPosition{AnchorID: prev[i], Offset: pos.Offset}
				return
			}
		}
	}
	delete(s.positions, key)
}

func isSentinel(id string) bool {
	return len(id) > 0 && id[0] == '~'
}
