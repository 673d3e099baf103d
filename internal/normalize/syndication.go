package normalize

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// syndicationPost maps an RSS/Atom entry of a channel feed. Entries carry no
// counters and no viewer flags.
func (n *Normalizer) syndicationPost(item *gofeed.Item, origin string, c Context, opts Options) (*model.PostRecord, error) {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		return nil, fmt.Errorf("%w: entry without guid or link", ErrMalformedRecord)
	}

	p := &model.PostRecord{
		UniqueID: "entry:" + origin + "#" + guid,
		ID:       guid,
		CursorID: guid,
		Source:   model.SchemaSyndication,
		URI:      guid,
		URL:      item.Link,
		Text:     item.Content,
	}
	if p.Text == "" {
		p.Text = item.Description
	}
	switch {
	case item.PublishedParsed != nil:
		p.CreatedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		p.CreatedAt = *item.UpdatedParsed
	}
	if item.Author != nil {
		p.AuthorName = item.Author.Name
		p.AuthorTag = strings.ToLower(item.Author.Email)
	}
	if p.AuthorName == "" {
		p.AuthorName = origin
	}
	if item.Link != "" {
		p.LinkPreview = &model.LinkPreview{URL: item.Link, Title: item.Title}
	}
	if item.Image != nil && item.Image.URL != "" {
		p.Media = append(p.Media, model.Attachment{ID: item.Image.URL, Type: "image", URL: item.Image.URL, Description: item.Image.Title})
	}
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		kind, _, _ := strings.Cut(enc.Type, "/")
		if kind != "image" && kind != "video" && kind != "audio" {
			continue
		}
		p.Media = append(p.Media, model.Attachment{ID: enc.URL, Type: kind, URL: enc.URL})
	}

	n.applyCommon(p, c, opts)
	p.StaticMetrics = true
	return p, nil
}
