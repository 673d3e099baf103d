// Package overlay keeps the like, repost and bookmark toggles the user has
// made but the server has not yet reflected.
package overlay

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type key struct {
	metric model.Metric
	id     string
}

// entry is an asserted value. A settled entry has been confirmed by a live
// copy of the post; only static copies still read it.
type entry struct {
	value   bool
	settled bool
}

// Overlay is a concurrent map of (metric, post uniqueId) to the asserted
// value. A pending entry wins over the server flag; absence means the
// server is trusted.
type Overlay struct {
	entries *xsync.MapOf[key, entry]
}

var _ model.OverlayReader = (*Overlay)(nil)

// New returns an empty overlay.
func New() *Overlay {
	return &Overlay{entries: xsync.NewMapOf[key, entry]()}
}

// Get returns the asserted value and whether it applies. Static copies of
// a post keep seeing settled entries since their own flags never move.
func (o *Overlay) Get(metric model.Metric, id string, static bool) (bool, bool) {
	e, ok := o.entries.Load(key{metric, id})
	if !ok || (e.settled && !static) {
		return false, false
	}
	return e.value, true
}

// Set records a user action.
func (o *Overlay) Set(metric model.Metric, id string, value bool) {
	o.entries.Store(key{metric, id}, entry{value: value})
}

// Clear drops every entry of a post.
func (o *Overlay) Clear(id string) {
	for _, m := range model.Metrics {
		o.entries.Delete(key{m, id})
	}
}

// Confirm settles a pending entry once a live copy reports the asserted
// value. It reports whether the entry was settled. A settled entry follows
// later live flags. Static copies never confirm.
func (o *Overlay) Confirm(metric model.Metric, id string, serverFlag, static bool) bool {
	if static {
		return false
	}
	settled := false
	o.entries.Compute(key{metric, id}, func(old entry, loaded bool) (entry, bool) {
		if !loaded {
			return old, true
		}
		if old.settled {
			old.value = serverFlag
			return old, false
		}
		if old.value == serverFlag {
			old.settled = true
			settled = true
		}
		return old, false
	})
	return settled
}

// ConfirmPost runs Confirm for every metric of a record.
func (o *Overlay) ConfirmPost(p *model.PostRecord) {
	for _, m := range model.Metrics {
		o.Confirm(m, p.UniqueID, p.ServerFlag(m), p.StaticMetrics)
	}
}

// Len returns the number of pending entries.
func (o *Overlay) Len() int {
	n := 0
	o.entries.Range(func(_ key, e entry) bool {
		if !e.settled {
			n++
		}
		return true
	})
	return n
}

// Reset removes every entry, used when the account changes.
func (o *Overlay) Reset() {
	o.entries.Clear()
}
