package model

import (
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidFeedKey is returned when a feed key cannot be parsed.
var ErrInvalidFeedKey = errors.New("invalid feed key")

// Schema names the backend a record came from.
type Schema string

const (
	SchemaMastodon    Schema = "mastodon"
	SchemaBluesky     Schema = "bluesky"
	SchemaSyndication Schema = "syndication"
)

// ItemKind tags the variant held by a ListItem.
type ItemKind string

const (
	ItemPost           ItemKind = "post"
	ItemActivity       ItemKind = "activity"
	ItemLoadMore       ItemKind = "loadMore"
	ItemServerUpdating ItemKind = "serverUpdating"
	ItemServerUpdated  ItemKind = "serverUpdated"
	ItemServerOverload ItemKind = "serverOverload"
	ItemError          ItemKind = "error"
	ItemEmpty          ItemKind = "empty"
)

// ListItem is one row of a feed working set: a post, an activity, or a
// sentinel. Exactly one payload matches Kind.
type ListItem struct {
	Kind     ItemKind        `json:"kind"`
	Post     *PostRecord     `json:"post,omitempty"`
	Activity *ActivityRecord `json:"activity,omitempty"`

	// Cursor is the page token of a loadMore sentinel.
	Cursor string     `json:"cursor,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes the failure shown by an error sentinel.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func PostItem(p *PostRecord) ListItem {
	return ListItem{Kind: ItemPost, Post: p}
}

func ActivityItem(a *ActivityRecord) ListItem {
	return ListItem{Kind: ItemActivity, Activity: a}
}

func LoadMoreItem(cursor string) ListItem {
	return ListItem{Kind: ItemLoadMore, Cursor: cursor}
}

func ErrorItem(kind, message string) ListItem {
	return ListItem{Kind: ItemError, Error: &ErrorInfo{Kind: kind, Message: message}}
}

func EmptyItem() ListItem {
	return ListItem{Kind: ItemEmpty}
}

// IsContent reports whether the item is a post or an activity.
func (i ListItem) IsContent() bool {
	return i.Kind == ItemPost || i.Kind == ItemActivity
}

// IsServerStatus reports whether the item is one of the forYou status rows.
func (i ListItem) IsServerStatus() bool {
	switch i.Kind {
	case ItemServerUpdating, ItemServerUpdated, ItemServerOverload:
		return true
	}
	return false
}

// ID returns the identity used for de-duplication and diffing. Sentinels
// have one fixed id per kind since a set holds at most one of each.
func (i ListItem) ID() string {
	switch i.Kind {
	case ItemPost:
		if i.Post != nil {
			return i.Post.UniqueID
		}
	case ItemActivity:
		if i.Activity != nil {
			return i.Activity.UniqueID
		}
	}
	return "~" + string(i.Kind)
}

// CursorID returns the page token addressing the item, or "" for sentinels.
func (i ListItem) CursorID() string {
	switch {
	case i.Post != nil:
		return i.Post.CursorID
	case i.Activity != nil:
		return i.Activity.CursorID
	}
	return ""
}

// Clone returns a copy whose records can be read while the original keeps
// being mutated.
func (i ListItem) Clone() ListItem {
	out := i
	if i.Post != nil {
		out.Post = i.Post.Clone()
	}
	if i.Activity != nil {
		out.Activity = i.Activity.Clone()
	}
	if i.Error != nil {
		e := *i.Error
		out.Error = &e
	}
	return out
}

// Revision fingerprints everything that affects how the item is displayed.
// Two items with the same ID and different revisions produce an update.
func (i ListItem) Revision() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(string(i.Kind))
	_, _ = d.WriteString(i.Cursor)
	if i.Error != nil {
		_, _ = d.WriteString(i.Error.Kind)
		_, _ = d.WriteString(i.Error.Message)
	}
	if i.Post != nil {
		i.Post.fingerprint(d)
	}
	if i.Activity != nil {
		_, _ = d.WriteString(i.Activity.Type)
		_, _ = d.WriteString(i.Activity.AccountTag)
		if i.Activity.Post != nil {
			i.Activity.Post.fingerprint(d)
		}
	}
	return d.Sum64()
}

// Attachment is a media item of a post.
type Attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	PreviewURL  string `json:"previewUrl,omitempty"`
	Description string `json:"description,omitempty"`
}

// MediaDisplay controls how the attachments of a post are laid out.
type MediaDisplay string

const (
	MediaNone        MediaDisplay = "none"
	MediaSingleImage MediaDisplay = "singleImage"
	MediaSingleVideo MediaDisplay = "singleVideo"
	MediaCarousel    MediaDisplay = "carousel"
)

// LinkPreview is the card attached to a post.
type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// QuoteStatus tracks the resolution of a quoted post.
type QuoteStatus string

const (
	QuoteDisabled QuoteStatus = "disabled"
	QuoteLoading  QuoteStatus = "loading"
	QuoteFetched  QuoteStatus = "fetched"
	QuoteNotFound QuoteStatus = "notFound"
)

// FilterAction is the outcome of matching content filters.
type FilterAction string

const (
	FilterNone FilterAction = "none"
	FilterWarn FilterAction = "warn"
	FilterHide FilterAction = "hide"
)

// FilterResult is the filter state of a post.
type FilterResult struct {
	Action FilterAction `json:"action"`
	Title  string       `json:"title,omitempty"`
}

// ServerMetrics are the counters and viewer flags as last reported by the
// backend.
type ServerMetrics struct {
	LikeCount   int64 `json:"likeCount"`
	RepostCount int64 `json:"repostCount"`
	ReplyCount  int64 `json:"replyCount"`
	Liked       bool  `json:"liked"`
	Reposted    bool  `json:"reposted"`
	Bookmarked  bool  `json:"bookmarked"`
}

// DisplayMetrics are the values presented to the user after applying the
// local overlay.
type DisplayMetrics struct {
	LikeCount   int64 `json:"likeCount"`
	RepostCount int64 `json:"repostCount"`
	ReplyCount  int64 `json:"replyCount"`
	Liked       bool  `json:"liked"`
	Reposted    bool  `json:"reposted"`
	Bookmarked  bool  `json:"bookmarked"`
}

// PostRecord is the backend-neutral view model of a post. For reposts every
// content field describes the wrapped original; the Reblogger fields describe
// the wrapper.
type PostRecord struct {
	UniqueID     string    `json:"uniqueId"`
	ID           string    `json:"id"`
	CursorID     string    `json:"cursorId"`
	Source       Schema    `json:"source"`
	URI          string    `json:"uri,omitempty"`
	URL          string    `json:"url,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	InstanceName string    `json:"instanceName,omitempty"`

	AuthorID     string `json:"authorId"`
	AuthorTag    string `json:"authorTag"`
	AuthorName   string `json:"authorName"`
	AuthorAvatar string `json:"authorAvatar,omitempty"`

	IsReblog      bool   `json:"isReblog"`
	RebloggerID   string `json:"rebloggerId,omitempty"`
	RebloggerTag  string `json:"rebloggerTag,omitempty"`
	RebloggerName string `json:"rebloggerName,omitempty"`

	Text            string `json:"text"`
	ContentWarning  string `json:"contentWarning,omitempty"`
	Sensitive       bool   `json:"sensitive,omitempty"`
	Visibility      string `json:"visibility,omitempty"`
	ApplicationName string `json:"applicationName,omitempty"`
	IsReply         bool   `json:"isReply,omitempty"`
	IsOwn           bool   `json:"isOwn,omitempty"`

	Media        []Attachment `json:"media,omitempty"`
	MediaDisplay MediaDisplay `json:"mediaDisplay"`
	LinkPreview  *LinkPreview `json:"linkPreview,omitempty"`

	QuoteStatus QuoteStatus `json:"quoteStatus"`
	QuoteURL    string      `json:"quoteUrl,omitempty"`
	Quoted      *PostRecord `json:"quoted,omitempty"`

	StaticMetrics bool           `json:"staticMetrics,omitempty"`
	Server        ServerMetrics  `json:"server"`
	Display       DisplayMetrics `json:"display"`

	Filter    FilterResult `json:"filter"`
	IsBlocked bool         `json:"isBlocked,omitempty"`
	IsMuted   bool         `json:"isMuted,omitempty"`

	SyncedWithOriginal bool   `json:"syncedWithOriginal,omitempty"`
	BatchID            string `json:"batchId,omitempty"`
	BatchIndex         int    `json:"batchIndex"`
}

// Clone returns a deep copy of the record.
func (p *PostRecord) Clone() *PostRecord {
	if p == nil {
		return nil
	}
	out := *p
	if p.Media != nil {
		out.Media = append([]Attachment(nil), p.Media...)
	}
	if p.LinkPreview != nil {
		lp := *p.LinkPreview
		out.LinkPreview = &lp
	}
	out.Quoted = p.Quoted.Clone()
	return &out
}

// MergeOriginal copies freshly fetched canonical data into the record while
// keeping its identity, wrapper and batch tags.
func (p *PostRecord) MergeOriginal(fresh *PostRecord) {
	if fresh == nil {
		return
	}
	p.Text = fresh.Text
	p.ContentWarning = fresh.ContentWarning
	p.Sensitive = fresh.Sensitive
	p.ApplicationName = fresh.ApplicationName
	p.Media = fresh.Media
	p.MediaDisplay = fresh.MediaDisplay
	p.LinkPreview = fresh.LinkPreview
	// A resolved quote survives a fresh copy that still has to resolve the same link.
	resolved := p.QuoteStatus == QuoteFetched || p.QuoteStatus == QuoteNotFound
	keep := resolved && fresh.QuoteStatus == QuoteLoading && fresh.QuoteURL == p.QuoteURL
	if !keep && (fresh.QuoteStatus != QuoteDisabled || p.QuoteStatus == QuoteLoading) {
		p.QuoteStatus = fresh.QuoteStatus
		p.QuoteURL = fresh.QuoteURL
		p.Quoted = fresh.Quoted
	}
	p.Filter = fresh.Filter
	p.IsBlocked = fresh.IsBlocked
	p.IsMuted = fresh.IsMuted
	if !p.StaticMetrics {
		p.Server = fresh.Server
	}
	p.SyncedWithOriginal = true
}

func (p *PostRecord) fingerprint(d *xxhash.Digest) {
	for _, s := range []string{
		p.UniqueID, p.Text, p.ContentWarning, p.ApplicationName,
		p.AuthorName, p.AuthorAvatar, p.RebloggerName,
		string(p.MediaDisplay), string(p.QuoteStatus), string(p.Filter.Action), p.Filter.Title,
	} {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	for _, m := range p.Media {
		_, _ = d.WriteString(m.ID)
		_, _ = d.WriteString(m.URL)
	}
	if p.LinkPreview != nil {
		_, _ = d.WriteString(p.LinkPreview.URL)
		_, _ = d.WriteString(p.LinkPreview.Title)
	}
	if p.Quoted != nil {
		_, _ = d.WriteString(p.Quoted.UniqueID)
		_, _ = d.WriteString(p.Quoted.Text)
	}
	dm := p.Display
	_, _ = d.WriteString(strconv.FormatInt(dm.LikeCount, 10))
	_, _ = d.WriteString(strconv.FormatInt(dm.RepostCount, 10))
	_, _ = d.WriteString(strconv.FormatInt(dm.ReplyCount, 10))
	_, _ = d.WriteString(strconv.FormatBool(dm.Liked))
	_, _ = d.WriteString(strconv.FormatBool(dm.Reposted))
	_, _ = d.WriteString(strconv.FormatBool(dm.Bookmarked))
	_, _ = d.WriteString(strconv.FormatBool(p.IsBlocked))
	_, _ = d.WriteString(strconv.FormatBool(p.IsMuted))
}

// ActivityRecord is a notification row of the activity and mentions feeds.
type ActivityRecord struct {
	UniqueID    string      `json:"uniqueId"`
	ID          string      `json:"id"`
	CursorID    string      `json:"cursorId"`
	Type        string      `json:"type"`
	CreatedAt   time.Time   `json:"createdAt"`
	AccountID   string      `json:"accountId"`
	AccountTag  string      `json:"accountTag"`
	AccountName string      `json:"accountName"`
	Post        *PostRecord `json:"post,omitempty"`
	BatchID     string      `json:"batchId,omitempty"`
	BatchIndex  int         `json:"batchIndex"`
}

func (a *ActivityRecord) Clone() *ActivityRecord {
	if a == nil {
		return nil
	}
	out := *a
	out.Post = a.Post.Clone()
	return &out
}
