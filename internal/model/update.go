package model

import (
	"time"

	"github.com/bryan-buckman/feedsync/internal/snapshot"
)

// UpdateType classifies a mutation of a working set.
type UpdateType string

const (
	UpdateHydrate    UpdateType = "hydrate"
	UpdateReplaceAll UpdateType = "replaceAll"
	UpdateInsert     UpdateType = "insert"
	UpdateAppend     UpdateType = "append"
	UpdateInject     UpdateType = "inject"
	UpdateUpdate     UpdateType = "update"
	UpdateRemove     UpdateType = "remove"
	UpdateRemoveAll  UpdateType = "removeAll"
)

// UpdateDescriptor is emitted once per committed mutation. Items is the full
// working set after the mutation; Changes is the ordered diff from the
// previously emitted list.
type UpdateDescriptor struct {
	Feed    FeedType          `json:"feed"`
	Type    UpdateType        `json:"type"`
	Items   []ListItem        `json:"items"`
	Changes []snapshot.Change `json:"changes"`

	// Inserted counts genuinely new content rows.
	Inserted int `json:"inserted,omitempty"`

	// Background is set for updates that should not animate.
	Background bool `json:"background,omitempty"`
}

// IDs returns the row identities of the descriptor in order.
func (d UpdateDescriptor) IDs() []string {
	out := make([]string, len(d.Items))
	for i, it := range d.Items {
		out[i] = it.ID()
	}
	return out
}

// ScrollPosition anchors a viewport to an item identity instead of an index.
// Offset is the distance between the anchor row's origin and the top chrome
// boundary at the time the position was cached.
type ScrollPosition struct {
	AnchorID string  `json:"anchorId"`
	Offset   float64 `json:"offset"`
}

// IsZero reports whether no anchor is set.
func (p ScrollPosition) IsZero() bool {
	return p.AnchorID == ""
}

// MaxUnreadPreviews is the number of preview identities kept per feed.
const MaxUnreadPreviews = 4

// UnreadState is the new-items indicator of a feed.
type UnreadState struct {
	Count    int      `json:"count"`
	Enabled  bool     `json:"enabled"`
	Previews []string `json:"previews,omitempty"`
}

// FeedSnapshot is the persisted form of a working set. Cursor is the
// backend token of the page after the last item.
type FeedSnapshot struct {
	Feed     FeedType       `json:"feed"`
	Items    []ListItem     `json:"items"`
	Cursor   string         `json:"cursor,omitempty"`
	Position ScrollPosition `json:"position"`
	SavedAt  time.Time      `json:"savedAt"`
}
