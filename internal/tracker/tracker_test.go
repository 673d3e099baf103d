package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type uniform float64

func (u uniform) Origin(_ []string, index int) float64 {
	return float64(u) * float64(index)
}

func descriptor(feed model.FeedType, ids ...string) model.UpdateDescriptor {
	d := model.UpdateDescriptor{Feed: feed}
	for _, id := range ids {
		d.Items = append(d.Items, model.PostItem(&model.PostRecord{UniqueID: id}))
	}
	return d
}

func TestScrollRoundTrip(t *testing.T) {
	s := NewScrollTracker()
	feed := model.Following
	layout := uniform(100)

	// X is the fourth row, 40 points below the chrome boundary.
	before := []string{"a", "b", "c", "x", "d"}
	boundary := layout.Origin(before, 3) - 40
	rows := []Row{{ID: "c", Origin: 200}, {ID: "x", Origin: 300}, {ID: "d", Origin: 400}}
	pos, ok := s.Cache(feed, Viewport{Boundary: boundary, Rows: rows, Reference: ReferenceTop})
	require.True(t, ok)
	// The row crossing the boundary is c.
	require.Equal(t, "c", pos.AnchorID)

	pos, ok = s.Cache(feed, Viewport{Boundary: boundary, Rows: rows})
	require.True(t, ok)
	require.Equal(t, model.ScrollPosition{AnchorID: "d", Offset: 400 - boundary}, pos)

	s.Set(feed, model.ScrollPosition{AnchorID: "x", Offset: 40})
	after := append([]string{"n1", "n2", "n3"}, before...)
	got, ok := s.Restore(feed, after, layout)
	require.True(t, ok)
	// X moved down three rows; the viewport follows so X stays 40 below.
	require.Equal(t, layout.Origin(after, 6)-40, got)
	require.Equal(t, float64(560), got)
}

func TestCacheUsesFirstRowAtTop(t *testing.T) {
	s := NewScrollTracker()
	rows := []Row{{ID: "a", Origin: 0}, {ID: "b", Origin: 100}}
	pos, ok := s.Cache(model.Following, Viewport{Boundary: -10, Rows: rows, Reference: ReferenceTop})
	require.True(t, ok)
	require.Equal(t, model.ScrollPosition{AnchorID: "a", Offset: 10}, pos)

	_, ok = s.Cache(model.Following, Viewport{})
	require.False(t, ok)
}

func TestCacheReference(t *testing.T) {
	s := NewScrollTracker()
	rows := []Row{{ID: "a", Origin: 0}, {ID: "b", Origin: 100}, {ID: "c", Origin: 250}}

	pos, ok := s.Cache(model.Following, Viewport{Boundary: 50, Rows: rows})
	require.True(t, ok)
	require.Equal(t, model.ScrollPosition{AnchorID: "c", Offset: 200}, pos)

	pos, ok = s.Cache(model.Following, Viewport{Boundary: 50, Rows: rows, Reference: ReferenceBottom})
	require.True(t, ok)
	require.Equal(t, "c", pos.AnchorID)

	pos, ok = s.Cache(model.Following, Viewport{Boundary: 50, Rows: rows, Reference: ReferenceTop})
	require.True(t, ok)
	require.Equal(t, model.ScrollPosition{AnchorID: "a", Offset: -50}, pos)

	_, ok = s.Cache(model.Hashtag("go"), Viewport{Boundary: 50, Rows: rows, Reference: "middle"})
	require.False(t, ok)
	_, stored := s.Get(model.Hashtag("go"))
	require.False(t, stored)
}

func TestHeightCacheOrigin(t *testing.T) {
	h := NewHeightCache()
	h.Record("a", 50)
	h.Record("c", 20)
	ids := []string{"a", "b", "c", "d"}
	require.Equal(t, float64(0), h.Origin(ids, 0))
	require.Equal(t, float64(50+DefaultRowHeight+20), h.Origin(ids, 3))
	require.Equal(t, float64(50+DefaultRowHeight+20+DefaultRowHeight), h.Origin(ids, 10))

	h.Forget("a")
	require.Equal(t, float64(DefaultRowHeight), h.Origin(ids, 1))
}

func TestObserveReanchors(t *testing.T) {
	s := NewScrollTracker()
	feed := model.Following
	s.Observe(descriptor(feed, "a", "b", "c", "d"))
	s.Set(feed, model.ScrollPosition{AnchorID: "b", Offset: 12})

	s.Observe(descriptor(feed, "z", "a", "b", "c", "d"))
	pos, _ := s.Get(feed)
	require.Equal(t, "b", pos.AnchorID)

	s.Observe(descriptor(feed, "z", "a", "d"))
	pos, _ = s.Get(feed)
	require.Equal(t, model.ScrollPosition{AnchorID: "d", Offset: 12}, pos)

	s.Observe(descriptor(feed, "z", "a"))
	pos, _ = s.Get(feed)
	require.Equal(t, "a", pos.AnchorID)

	s.Observe(descriptor(feed))
	_, ok := s.Get(feed)
	require.False(t, ok)
}

func TestUnreadThreshold(t *testing.T) {
	u := NewUnreadTracker()
	feed := model.Following

	st := u.Add(feed, 2, 0, []string{"a", "b"})
	require.False(t, st.Enabled)
	require.Zero(t, st.Count)

	st = u.Add(feed, 5, 0, []string{"1", "2", "3", "4", "5"})
	require.True(t, st.Enabled)
	require.Equal(t, 5, st.Count)
	require.Equal(t, []string{"1", "2", "3", "4"}, st.Previews)

	// Once enabled, every new item counts.
	st = u.Add(feed, 1, 0, []string{"6"})
	require.Equal(t, 6, st.Count)
	require.Equal(t, []string{"6", "1", "2", "3"}, st.Previews)
}

func TestUnreadMonotonicUntilReset(t *testing.T) {
	u := NewUnreadTracker()
	feed := model.MentionsIn
	last := 0
	for i := range 10 {
		st := u.Add(feed, i%3, 1, nil)
		require.GreaterOrEqual(t, st.Count, last)
		last = st.Count
	}
	require.Positive(t, last)

	u.ScrolledToTop(feed)
	require.Equal(t, model.UnreadState{}, u.Get(feed))
	st := u.Add(feed, 3, 1, nil)
	require.Zero(t, st.Count)

	u.ScrolledAway(feed)
	st = u.Add(feed, 3, 1, []string{"x"})
	require.Equal(t, 3, st.Count)

	u.Dismiss(feed)
	require.Equal(t, model.UnreadState{}, u.Get(feed))
}

func TestUnreadStateIsCopied(t *testing.T) {
	u := NewUnreadTracker()
	st := u.Add(model.Activity, 1, 1, []string{"a"})
	st.Previews[0] = "mutated"
	require.Equal(t, []string{"a"}, u.Get(model.Activity).Previews)
}
