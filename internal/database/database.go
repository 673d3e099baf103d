// Package database provides SQLite storage for the sync engine cache.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the persister and handlers.
	conn.SetMaxOpenConns(1)
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		account TEXT NOT NULL,
		feed_key TEXT NOT NULL,
		items TEXT NOT NULL,
		anchor_id TEXT NOT NULL DEFAULT '',
		anchor_offset REAL NOT NULL DEFAULT 0,
		saved_at DATETIME,
		PRIMARY KEY (account, feed_key)
	);
	CREATE TABLE IF NOT EXISTS feed_menu (
		account TEXT NOT NULL,
		position INTEGER NOT NULL,
		feed_key TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (account, position)
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	INSERT OR IGNORE INTO settings (key, value) VALUES ('polling_interval_seconds', '30');
	INSERT OR IGNORE INTO settings (key, value) VALUES ('show_original_timestamp', 'true');
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.addColumn("snapshots", "next_cursor", "TEXT NOT NULL DEFAULT ''")
}

// addColumn adds a column to a table created by an earlier version.
func (db *DB) addColumn(table, column, decl string) error {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.conn.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// --- Snapshot Methods ---

// SaveSnapshot replaces the stored snapshot of a feed.
func (db *DB) SaveSnapshot(account string, snap model.FeedSnapshot) error {
	row, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(`
		INSERT INTO snapshots (account, feed_key, items, next_cursor, anchor_id, anchor_offset, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, feed_key) DO UPDATE SET
			items = excluded.items,
			next_cursor = excluded.next_cursor,
			anchor_id = excluded.anchor_id,
			anchor_offset = excluded.anchor_offset,
			saved_at = excluded.saved_at`,
		account, snap.Feed.Key(), row.items, row.cursor, row.anchorID, row.offset, row.savedAt)
	return err
}

// LoadSnapshot returns the stored snapshot of a feed, or nil if there is none.
func (db *DB) LoadSnapshot(account string, feed model.FeedType) (*model.FeedSnapshot, error) {
	var row snapshotRow
	err := db.conn.QueryRow(
		"SELECT items, next_cursor, anchor_id, anchor_offset, saved_at FROM snapshots WHERE account = ? AND feed_key = ?",
		account, feed.Key(),
	).Scan(&row.items, &row.cursor, &row.anchorID, &row.offset, &row.savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.decode(feed)
}

// DeleteSnapshot removes the stored snapshot of a feed.
func (db *DB) DeleteSnapshot(account string, feed model.FeedType) error {
	_, err := db.conn.Exec("DELETE FROM snapshots WHERE account = ? AND feed_key = ?", account, feed.Key())
	return err
}

// DeleteAccount removes every snapshot and the feed menu of an account.
func (db *DB) DeleteAccount(account string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM snapshots WHERE account = ?", account); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM feed_menu WHERE account = ?", account); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Feed Menu Methods ---

// GetMenu returns the feed menu of an account in display order.
func (db *DB) GetMenu(account string) ([]model.FeedType, error) {
	rows, err := db.conn.Query("SELECT feed_key, title, url FROM feed_menu WHERE account = ? ORDER BY position", account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.FeedType
	for rows.Next() {
		var key, title, url string
		if err := rows.Scan(&key, &title, &url); err != nil {
			return nil, err
		}
		ft, err := menuEntry(key, title, url)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, ft)
	}
	return feeds, rows.Err()
}

// SetMenu replaces the feed menu of an account.
func (db *DB) SetMenu(account string, feeds []model.FeedType) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM feed_menu WHERE account = ?", account); err != nil {
		return err
	}
	for i, ft := range feeds {
		if _, err := tx.Exec(
			"INSERT INTO feed_menu (account, position, feed_key, title, url) VALUES (?, ?, ?, ?, ?)",
			account, i, ft.Key(), ft.Title, ft.URL,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(key string) (string, error) {
	var val string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?", key, value, value)
	return err
}

// GetPollingInterval returns the middle polling tier, with a minimum of 10 seconds.
func (db *DB) GetPollingInterval() (time.Duration, error) {
	return pollingInterval(db.GetSetting(model.SettingPollingInterval)), nil
}

// SetPollingInterval saves the middle polling tier.
func (db *DB) SetPollingInterval(d time.Duration) error {
	return db.SetSetting(model.SettingPollingInterval, formatSeconds(d))
}

// GetShowOriginalTimestamp reports whether reposts show the original post time.
func (db *DB) GetShowOriginalTimestamp() (bool, error) {
	return showOriginalTimestamp(db.GetSetting(model.SettingShowOriginalTimestamp)), nil
}

func (db *DB) GetFilters() ([]normalize.Filter, error) {
	return decodeFilters(db.GetSetting(SettingFilters))
}

func (db *DB) SetFilters(filters []normalize.Filter) error {
	val, err := encodeFilters(filters)
	if err != nil {
		return err
	}
	return db.SetSetting(SettingFilters, val)
}
