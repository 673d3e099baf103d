package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	db, err := New(filepath.Join(t.TempDir(), "feedsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	out["sqlite"] = db

	if dsn := os.Getenv("FEEDSYNC_TEST_POSTGRES"); dsn != "" {
		pg, err := NewPostgres(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func TestSnapshots(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			account := "snap-" + name + "@home.example"
			require.NoError(t, s.DeleteAccount(account))

			missing, err := s.LoadSnapshot(account, model.Following)
			require.NoError(t, err)
			require.Nil(t, missing)

			saved := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			snap := model.FeedSnapshot{
				Feed: model.Hashtag("Go"),
				Items: []model.ListItem{
					model.PostItem(&model.PostRecord{UniqueID: "u1", ID: "1", CursorID: "1", Text: "hello"}),
					model.LoadMoreItem("1"),
				},
				Cursor:   "at://did:plc:x/app.bsky.feed.post/3k|page2",
				Position: model.ScrollPosition{AnchorID: "u1", Offset: 42.5},
				SavedAt:  saved,
			}
			require.NoError(t, s.SaveSnapshot(account, snap))

			got, err := s.LoadSnapshot(account, model.Hashtag("go"))
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Len(t, got.Items, 1)
			require.Equal(t, "hello", got.Items[0].Post.Text)
			require.Equal(t, snap.Cursor, got.Cursor)
			require.Equal(t, snap.Position, got.Position)
			require.True(t, saved.Equal(got.SavedAt))

			snap.Items = snap.Items[:0]
			require.NoError(t, s.SaveSnapshot(account, snap))
			got, err = s.LoadSnapshot(account, model.Hashtag("go"))
			require.NoError(t, err)
			require.Empty(t, got.Items)

			require.NoError(t, s.DeleteSnapshot(account, model.Hashtag("go")))
			got, err = s.LoadSnapshot(account, model.Hashtag("go"))
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestMigrateAddsSnapshotCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE snapshots (
		account TEXT NOT NULL,
		feed_key TEXT NOT NULL,
		items TEXT NOT NULL,
		anchor_id TEXT NOT NULL DEFAULT '',
		anchor_offset REAL NOT NULL DEFAULT 0,
		saved_at DATETIME,
		PRIMARY KEY (account, feed_key)
	);
	INSERT INTO snapshots (account, feed_key, items) VALUES ('a', 'following', '[]');`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	for range 2 {
		db, err := New(path)
		require.NoError(t, err)
		got, err := db.LoadSnapshot("a", model.Following)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got.Cursor)
		require.NoError(t, db.Close())
	}
}

func TestMenu(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			account := "menu-" + name + "@home.example"
			menu := []model.FeedType{
				model.Following,
				model.List("7", "Friends"),
				model.Channel("c1", "Go blogs", "https://blog.example/feed.xml"),
				model.Hashtag("golang"),
			}
			require.NoError(t, s.SetMenu(account, menu))
			got, err := s.GetMenu(account)
			require.NoError(t, err)
			require.Equal(t, menu, got)

			require.NoError(t, s.SetMenu(account, menu[:1]))
			got, err = s.GetMenu(account)
			require.NoError(t, err)
			require.Equal(t, menu[:1], got)

			require.NoError(t, s.DeleteAccount(account))
			got, err = s.GetMenu(account)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestSettings(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetPollingInterval(30*time.Second))
			d, err := s.GetPollingInterval()
			require.NoError(t, err)
			require.Equal(t, 30*time.Second, d)

			require.NoError(t, s.SetPollingInterval(time.Second))
			d, err = s.GetPollingInterval()
			require.NoError(t, err)
			require.Equal(t, model.MinPollingInterval, d)

			require.NoError(t, s.SetSetting(model.SettingShowOriginalTimestamp, "false"))
			show, err := s.GetShowOriginalTimestamp()
			require.NoError(t, err)
			require.False(t, show)
			require.NoError(t, s.SetSetting(model.SettingShowOriginalTimestamp, "true"))

			filters := []normalize.Filter{{Title: "spoilers", Action: model.FilterWarn, Keywords: []string{"finale"}}}
			require.NoError(t, s.SetFilters(filters))
			got, err := s.GetFilters()
			require.NoError(t, err)
			require.Equal(t, filters, got)
		})
	}
}

func TestSQLiteDefaults(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "defaults.db"))
	require.NoError(t, err)
	defer db.Close()

	d, err := db.GetPollingInterval()
	require.NoError(t, err)
	require.Equal(t, model.DefaultPollingInterval, d)
	show, err := db.GetShowOriginalTimestamp()
	require.NoError(t, err)
	require.True(t, show)
	filters, err := db.GetFilters()
	require.NoError(t, err)
	require.Empty(t, filters)
	require.Equal(t, "SQLite", db.DatabaseType())
	require.False(t, db.SupportsHighConcurrency())
}
