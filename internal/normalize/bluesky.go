package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/bryan-buckman/feedsync/internal/model"
)

func (n *Normalizer) blueskyPost(fv *bsky.FeedDefs_FeedViewPost, c Context, opts Options) (*model.PostRecord, error) {
	pv := fv.Post
	if pv == nil || pv.Uri == "" || pv.Author == nil {
		return nil, fmt.Errorf("%w: post view without uri or author", ErrMalformedRecord)
	}

	p := &model.PostRecord{
		UniqueID: pv.Uri,
		ID:       pv.Uri,
		CursorID: pv.Uri,
		Source:   model.SchemaBluesky,
		URI:      pv.Uri,
		URL:      webURL(pv.Author.Handle, pv.Uri),
		Server: model.ServerMetrics{
			LikeCount:   deref(pv.LikeCount),
			RepostCount: deref(pv.RepostCount),
			ReplyCount:  deref(pv.ReplyCount),
		},
	}
	setAuthor(p, pv.Author)

	created := parseTime(pv.IndexedAt)
	if pv.Record != nil {
		if fp, ok := pv.Record.Val.(*bsky.FeedPost); ok {
			p.Text = fp.Text
			p.IsReply = fp.Reply != nil
			if t := parseTime(fp.CreatedAt); !t.IsZero() {
				created = t
			}
		}
	}
	p.CreatedAt = created

	if pv.Viewer != nil {
		p.Server.Liked = pv.Viewer.Like != nil
		p.Server.Reposted = pv.Viewer.Repost != nil
	}

	if fv.Reason != nil && fv.Reason.FeedDefs_ReasonRepost != nil && fv.Reason.FeedDefs_ReasonRepost.By != nil {
		rr := fv.Reason.FeedDefs_ReasonRepost
		p.IsReblog = true
		p.RebloggerID = rr.By.Did
		p.RebloggerTag = rr.By.Handle
		p.RebloggerName = displayName(rr.By)
		p.UniqueID = pv.Uri + "|" + rr.By.Did
		if !opts.ShowOriginalTimestamp {
			if t := parseTime(rr.IndexedAt); !t.IsZero() {
				p.CreatedAt = t
			}
		}
	}

	if pv.Embed != nil {
		n.blueskyEmbed(p, pv.Embed, c, opts)
	}

	n.applyCommon(p, c, opts)
	return p, nil
}

func (n *Normalizer) blueskyEmbed(p *model.PostRecord, e *bsky.FeedDefs_PostView_Embed, c Context, opts Options) {
	switch {
	case e.EmbedImages_View != nil:
		p.Media = images(e.EmbedImages_View)
	case e.EmbedExternal_View != nil:
		p.LinkPreview = external(e.EmbedExternal_View)
	case e.EmbedRecord_View != nil:
		n.blueskyQuote(p, e.EmbedRecord_View, c, opts)
	case e.EmbedRecordWithMedia_View != nil:
		rm := e.EmbedRecordWithMedia_View
		if rm.Media != nil {
			if rm.Media.EmbedImages_View != nil {
				p.Media = images(rm.Media.EmbedImages_View)
			}
			if rm.Media.EmbedExternal_View != nil {
				p.LinkPreview = external(rm.Media.EmbedExternal_View)
			}
		}
		if rm.Record != nil {
			n.blueskyQuote(p, rm.Record, c, opts)
		}
	}
}

func (n *Normalizer) blueskyQuote(p *model.PostRecord, rv *bsky.EmbedRecord_View, c Context, opts Options) {
	if rv.Record == nil {
		return
	}
	switch {
	case rv.Record.EmbedRecord_ViewRecord != nil:
		vr := rv.Record.EmbedRecord_ViewRecord
		q := &model.PostRecord{
			UniqueID:  vr.Uri,
			ID:        vr.Uri,
			CursorID:  vr.Uri,
			Source:    model.SchemaBluesky,
			URI:       vr.Uri,
			CreatedAt: parseTime(vr.IndexedAt),
		}
		if vr.Author != nil {
			setAuthor(q, vr.Author)
			q.URL = webURL(vr.Author.Handle, vr.Uri)
		}
		if vr.Value != nil {
			if fp, ok := vr.Value.Val.(*bsky.FeedPost); ok {
				q.Text = fp.Text
				if t := parseTime(fp.CreatedAt); !t.IsZero() {
					q.CreatedAt = t
				}
			}
		}
		n.applyCommon(q, c, opts)
		p.Quoted = q
		p.QuoteURL = vr.Uri
		p.QuoteStatus = model.QuoteFetched
	case rv.Record.EmbedRecord_ViewNotFound != nil:
		p.QuoteURL = rv.Record.EmbedRecord_ViewNotFound.Uri
		p.QuoteStatus = model.QuoteNotFound
	}
}

func setAuthor(p *model.PostRecord, a *bsky.ActorDefs_ProfileViewBasic) {
	p.AuthorID = a.Did
	p.AuthorTag = a.Handle
	p.AuthorName = displayName(a)
	if a.Avatar != nil {
		p.AuthorAvatar = *a.Avatar
	}
}

func displayName(a *bsky.ActorDefs_ProfileViewBasic) string {
	if a.DisplayName != nil && *a.DisplayName != "" {
		return *a.DisplayName
	}
	return a.Handle
}

func images(v *bsky.EmbedImages_View) []model.Attachment {
	out := make([]model.Attachment, 0, len(v.Images))
	for i, img := range v.Images {
		if img == nil {
			continue
		}
		out = append(out, model.Attachment{
			ID:          fmt.Sprintf("%d", i),
			Type:        "image",
			URL:         img.Fullsize,
			PreviewURL:  img.Thumb,
			Description: img.Alt,
		})
	}
	return out
}

func external(v *bsky.EmbedExternal_View) *model.LinkPreview {
	if v.External == nil {
		return nil
	}
	lp := &model.LinkPreview{
		URL:         v.External.Uri,
		Title:       v.External.Title,
		Description: v.External.Description,
	}
	if v.External.Thumb != nil {
		lp.Image = *v.External.Thumb
	}
	return lp
}

// webURL maps at://did/app.bsky.feed.post/rkey to the public web link.
func webURL(handle, uri string) string {
	i := strings.LastIndex(uri, "/")
	if i < 0 || handle == "" {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + uri[i+1:]
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
