// Package opml handles importing and exporting the feed menu as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed). Key holds
// the feed key of menu entries; plain syndication outlines only carry
// XMLURL.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	Key      string    `xml:"feedKey,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// folderOf names the folder a feed is exported under; "" keeps it at the
// root.
func folderOf(ft model.FeedType) string {
	switch ft.Kind {
	case model.KindHashtag:
		return "Hashtags"
	case model.KindList:
		return "Lists"
	case model.KindChannel:
		return "Channels"
	case model.KindCommunity, model.KindTrending:
		return "Instances"
	}
	return ""
}

// Parse reads an OPML document and returns the feeds in document order.
// Outlines without a feed key but with an xmlUrl become syndication
// channels, so exports of other readers can be imported. Outlines with an
// invalid key are skipped.
func Parse(r io.Reader) ([]model.FeedType, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var feeds []model.FeedType
	seen := make(map[string]struct{})
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			title := o.Title
			if title == "" {
				title = o.Text
			}
			var ft model.FeedType
			switch {
			case o.Key != "":
				parsed, err := model.ParseFeedType(o.Key)
				if err != nil {
					continue
				}
				ft = parsed
				if ft.Kind == model.KindList || ft.Kind == model.KindChannel {
					ft.Title = title
					ft.URL = o.XMLURL
				}
			case o.XMLURL != "":
				ft = model.Channel(o.XMLURL, title, o.XMLURL)
			default:
				// It's a folder.
				walk(o.Outlines)
				continue
			}
			if _, dup := seen[ft.Key()]; dup {
				continue
			}
			seen[ft.Key()] = struct{}{}
			feeds = append(feeds, ft)
		}
	}
	walk(doc.Body.Outlines)
	return feeds, nil
}

// Export generates an OPML document from the feed menu. Root entries keep
// their menu order; grouped entries follow in folders.
func Export(title string, feeds []model.FeedType) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	var rootOutlines []Outline
	var folders []string
	grouped := make(map[string][]Outline)
	for _, ft := range feeds {
		o := Outline{
			Text:   ft.DisplayTitle(),
			Title:  ft.DisplayTitle(),
			Type:   "feedsync",
			Key:    ft.Key(),
			XMLURL: ft.URL,
		}
		if ft.URL != "" {
			o.Type = "rss"
		}
		name := folderOf(ft)
		if name == "" {
			rootOutlines = append(rootOutlines, o)
			continue
		}
		if _, ok := grouped[name]; !ok {
			folders = append(folders, name)
		}
		grouped[name] = append(grouped[name], o)
	}
	for _, name := range folders {
		rootOutlines = append(rootOutlines, Outline{Text: name, Title: name, Outlines: grouped[name]})
	}
	doc.Body.Outlines = rootOutlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
