package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
)

func TestExportParse(t *testing.T) {
	menu := []model.FeedType{
		model.Following,
		model.Hashtag("golang"),
		model.ForYou,
		model.List("7", "Friends"),
		model.Channel("c1", "Go blogs", "https://blog.example/feed.xml"),
		model.Community("mastodon.social"),
	}
	data, err := Export("feedsync", menu)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("<?xml")))
	require.Contains(t, string(data), `feedKey="hashtag:golang"`)

	got, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	// Folders come after the root entries.
	require.Equal(t, []model.FeedType{
		model.Following,
		model.ForYou,
		model.Hashtag("golang"),
		model.List("7", "Friends"),
		model.Channel("c1", "Go blogs", "https://blog.example/feed.xml"),
		model.Community("mastodon.social"),
	}, got)
}

func TestParseForeignOPML(t *testing.T) {
	doc := `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>Reader</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
      <outline text="Dup" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
    </outline>
    <outline text="Broken" feedKey="nope:1"/>
    <outline text="Top" title="Top Feed" xmlUrl="https://top.example/rss"/>
  </body>
</opml>`
	got, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, []model.FeedType{
		model.Channel("https://go.dev/blog/feed.atom", "Go Blog", "https://go.dev/blog/feed.atom"),
		model.Channel("https://top.example/rss", "Top Feed", "https://top.example/rss"),
	}, got)

	_, err = Parse(strings.NewReader("<opml"))
	require.Error(t, err)
}
