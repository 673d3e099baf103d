package model

// Metric is one of the user-toggleable post flags.
type Metric string

const (
	MetricLike     Metric = "like"
	MetricRepost   Metric = "repost"
	MetricBookmark Metric = "bookmark"
)

// Metrics lists every metric in a fixed order.
var Metrics = []Metric{MetricLike, MetricRepost, MetricBookmark}

// OverlayReader exposes the locally toggled flags of posts. static selects
// the view of a record whose server flags are frozen.
type OverlayReader interface {
	Get(metric Metric, id string, static bool) (value, ok bool)
}

// DeriveCount applies a local toggle to a server counter. local is nil when
// the overlay holds no entry.
//
// Static feeds never reflect the user's own action, so a local true adds one.
// Live feeds add one while the server has not yet seen a local like, and
// also when the server flag is set but its counter still reads zero.
func DeriveCount(server int64, serverFlag bool, local *bool, static bool) int64 {
	localTrue := local != nil && *local
	switch {
	case static:
		if localTrue {
			return max(server+1, 0)
		}
		return max(server, 0)
	case localTrue && !serverFlag:
		return max(server+1, 0)
	case serverFlag && server == 0:
		return max(server+1, 0)
	default:
		return max(server, 0)
	}
}

func lookup(ov OverlayReader, m Metric, id string, static bool) *bool {
	if ov == nil {
		return nil
	}
	v, ok := ov.Get(m, id, static)
	if !ok {
		return nil
	}
	return &v
}

// Resolve recomputes Display from the server values and the overlay. The
// overlay is keyed by UniqueID.
func (p *PostRecord) Resolve(ov OverlayReader) {
	d := DisplayMetrics{
		ReplyCount: max(p.Server.ReplyCount, 0),
		Liked:      p.Server.Liked,
		Reposted:   p.Server.Reposted,
		Bookmarked: p.Server.Bookmarked,
	}
	like := lookup(ov, MetricLike, p.UniqueID, p.StaticMetrics)
	repost := lookup(ov, MetricRepost, p.UniqueID, p.StaticMetrics)
	d.LikeCount = DeriveCount(p.Server.LikeCount, p.Server.Liked, like, p.StaticMetrics)
	d.RepostCount = DeriveCount(p.Server.RepostCount, p.Server.Reposted, repost, p.StaticMetrics)
	if like != nil {
		d.Liked = *like
	}
	if repost != nil {
		d.Reposted = *repost
	}
	if b := lookup(ov, MetricBookmark, p.UniqueID, p.StaticMetrics); b != nil {
		d.Bookmarked = *b
	}
	p.Display = d
}

// ServerFlag returns the server value of a metric flag.
func (p *PostRecord) ServerFlag(m Metric) bool {
	switch m {
	case MetricLike:
		return p.Server.Liked
	case MetricRepost:
		return p.Server.Reposted
	case MetricBookmark:
		return p.Server.Bookmarked
	}
	return false
}
