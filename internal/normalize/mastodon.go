package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-mastodon"
	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// statusURL matches links to single statuses on Mastodon-compatible servers.
var statusURL = regexp.MustCompile(`^https?://[^/]+/(?:@[^/]+|users/[^/]+/statuses|notice)/([A-Za-z0-9]+)/?$`)

func (n *Normalizer) mastodonPost(s *mastodon.Status, app, instance string, c Context, opts Options) (*model.PostRecord, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("%w: status without id", ErrMalformedRecord)
	}
	r := s
	if s.Reblog != nil {
		r = s.Reblog
	}

	p := &model.PostRecord{
		UniqueID:     statusUniqueID(s, instance),
		ID:           string(r.ID),
		CursorID:     string(s.ID),
		Source:       model.SchemaMastodon,
		URI:          r.URI,
		URL:          r.URL,
		CreatedAt:    s.CreatedAt,
		InstanceName: instance,

		AuthorID:     string(r.Account.ID),
		AuthorTag:    r.Account.Acct,
		AuthorName:   lo.Ternary(r.Account.DisplayName != "", r.Account.DisplayName, r.Account.Username),
		AuthorAvatar: r.Account.AvatarStatic,

		Text:            r.Content,
		ContentWarning:  r.SpoilerText,
		Sensitive:       r.Sensitive,
		Visibility:      r.Visibility,
		ApplicationName: app,
		IsReply:         present(r.InReplyToID),

		Server: model.ServerMetrics{
			LikeCount:   r.FavouritesCount,
			RepostCount: r.ReblogsCount,
			ReplyCount:  r.RepliesCount,
			Liked:       flag(r.Favourited, s.Favourited),
			Reposted:    flag(r.Reblogged, s.Reblogged),
			Bookmarked:  flag(r.Bookmarked, s.Bookmarked),
		},
	}
	if s.Reblog != nil {
		p.IsReblog = true
		p.RebloggerID = string(s.Account.ID)
		p.RebloggerTag = s.Account.Acct
		p.RebloggerName = lo.Ternary(s.Account.DisplayName != "", s.Account.DisplayName, s.Account.Username)
		if opts.ShowOriginalTimestamp {
			p.CreatedAt = r.CreatedAt
		}
	}

	for _, a := range r.MediaAttachments {
		if a.Type == "unknown" {
			continue
		}
		p.Media = append(p.Media, model.Attachment{
			ID:          string(a.ID),
			Type:        a.Type,
			URL:         a.URL,
			PreviewURL:  a.PreviewURL,
			Description: a.Description,
		})
	}

	if r.Card != nil && r.Card.URL != "" {
		p.LinkPreview = &model.LinkPreview{
			URL:         r.Card.URL,
			Title:       r.Card.Title,
			Description: r.Card.Description,
			Image:       r.Card.Image,
		}
		if statusURL.MatchString(r.Card.URL) && r.Card.URL != r.URL {
			p.QuoteURL = r.Card.URL
			p.QuoteStatus = model.QuoteLoading
			if q, ok := n.CachedQuote(r.Card.URL); ok {
				n.applyQuote(p, q)
			}
		}
	}

	n.applyCommon(p, c, opts)
	return p, nil
}

func (n *Normalizer) applyQuote(p *model.PostRecord, q *model.PostRecord) {
	if q == nil {
		p.QuoteStatus = model.QuoteNotFound
		p.Quoted = nil
		return
	}
	p.QuoteStatus = model.QuoteFetched
	p.Quoted = q.Clone()
	// The card duplicates the quote.
	p.LinkPreview = nil
}

// ApplyQuote records the resolution of a loading quote on p.
func (n *Normalizer) ApplyQuote(p *model.PostRecord, q *model.PostRecord) {
	n.applyQuote(p, q)
}

func (n *Normalizer) activity(raw Raw, c Context, opts Options) (*model.ActivityRecord, error) {
	nt := raw.Notification
	if nt.ID == "" {
		return nil, fmt.Errorf("%w: notification without id", ErrMalformedRecord)
	}
	a := &model.ActivityRecord{
		UniqueID:    "notification:" + string(nt.ID),
		ID:          string(nt.ID),
		CursorID:    string(nt.ID),
		Type:        nt.Type,
		CreatedAt:   nt.CreatedAt,
		AccountID:   string(nt.Account.ID),
		AccountTag:  nt.Account.Acct,
		AccountName: lo.Ternary(nt.Account.DisplayName != "", nt.Account.DisplayName, nt.Account.Username),
		BatchID:     c.BatchID,
		BatchIndex:  c.BatchIndex,
	}
	if nt.Status != nil {
		p, err := n.mastodonPost(nt.Status, raw.Application, raw.InstanceName, c, opts)
		if err != nil {
			return nil, err
		}
		a.Post = p
	}
	return a, nil
}

// IsMention reports whether a notification belongs to the mentions feed.
func IsMention(nt *mastodon.Notification) bool {
	if nt.Type == "mention" {
		return true
	}
	return nt.Status != nil && nt.Status.Visibility == "direct"
}

func statusUniqueID(s *mastodon.Status, instance string) string {
	if s.URI != "" {
		return s.URI
	}
	if instance != "" {
		return string(s.ID) + "@" + strings.ToLower(instance)
	}
	return string(s.ID)
}

// flag reads a viewer flag, preferring the wrapped status.
func flag(inner, outer any) bool {
	if v, ok := inner.(bool); ok {
		return v
	}
	v, _ := outer.(bool)
	return v
}

func present(v any) bool {
	if v == nil {
		return false
	}
	s := fmt.Sprint(v)
	return s != "" && s != "<nil>"
}
