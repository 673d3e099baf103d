package overlay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
)

func TestSetGetClear(t *testing.T) {
	o := New()
	_, ok := o.Get(model.MetricLike, "p", false)
	require.False(t, ok)

	o.Set(model.MetricLike, "p", true)
	o.Set(model.MetricBookmark, "p", false)
	v, ok := o.Get(model.MetricLike, "p", false)
	require.True(t, ok)
	require.True(t, v)
	require.Equal(t, 2, o.Len())

	o.Clear("p")
	require.Equal(t, 0, o.Len())
}

func TestConfirm(t *testing.T) {
	o := New()
	o.Set(model.MetricLike, "p", true)

	require.False(t, o.Confirm(model.MetricLike, "p", false, false))
	_, ok := o.Get(model.MetricLike, "p", false)
	require.True(t, ok)

	require.True(t, o.Confirm(model.MetricLike, "p", true, false))
	_, ok = o.Get(model.MetricLike, "p", false)
	require.False(t, ok)
	v, ok := o.Get(model.MetricLike, "p", true)
	require.True(t, ok)
	require.True(t, v)

	// A settled entry follows the live flag for static copies.
	require.False(t, o.Confirm(model.MetricLike, "p", false, false))
	v, ok = o.Get(model.MetricLike, "p", true)
	require.True(t, ok)
	require.False(t, v)

	require.False(t, o.Confirm(model.MetricRepost, "missing", true, false))
	require.Equal(t, 0, o.Len())
}

func TestConfirmStaticKeepsEntry(t *testing.T) {
	o := New()
	o.Set(model.MetricRepost, "p", true)
	require.False(t, o.Confirm(model.MetricRepost, "p", true, true))
	require.Equal(t, 1, o.Len())
}

func TestSettledEntryKeepsStaticCopy(t *testing.T) {
	o := New()
	o.Set(model.MetricLike, "p", true)
	live := &model.PostRecord{UniqueID: "p", Server: model.ServerMetrics{LikeCount: 1, Liked: true}}
	static := &model.PostRecord{UniqueID: "p", StaticMetrics: true}

	o.ConfirmPost(live)
	o.ConfirmPost(static)
	live.Resolve(o)
	static.Resolve(o)
	require.Zero(t, o.Len())
	require.True(t, live.Display.Liked)
	require.Equal(t, int64(1), live.Display.LikeCount)
	require.True(t, static.Display.Liked)
	require.Equal(t, int64(1), static.Display.LikeCount)

	o.Clear("p")
	static.Resolve(o)
	require.False(t, static.Display.Liked)
}

func TestConfirmPostResolvesDisplay(t *testing.T) {
	o := New()
	p := &model.PostRecord{UniqueID: "p", Server: model.ServerMetrics{LikeCount: 4, Liked: true}}
	o.Set(model.MetricLike, "p", true)
	o.ConfirmPost(p)
	p.Resolve(o)
	require.Equal(t, int64(4), p.Display.LikeCount)
	require.Equal(t, 0, o.Len())
}

func TestConcurrentAccess(t *testing.T) {
	o := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				o.Set(model.MetricLike, "p", (i+j)%2 == 0)
				o.Get(model.MetricLike, "p", false)
				o.Confirm(model.MetricLike, "p", true, false)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, o.Len(), 1)
}
