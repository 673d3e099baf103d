// Package database persists feed snapshots, the feed menu and settings.
package database

import (
	"time"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Snapshot operations
	SaveSnapshot(account string, snap model.FeedSnapshot) error
	LoadSnapshot(account string, feed model.FeedType) (*model.FeedSnapshot, error)
	DeleteSnapshot(account string, feed model.FeedType) error
	DeleteAccount(account string) error

	// Feed menu operations
	GetMenu(account string) ([]model.FeedType, error)
	SetMenu(account string, feeds []model.FeedType) error

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetPollingInterval() (time.Duration, error)
	SetPollingInterval(d time.Duration) error
	GetShowOriginalTimestamp() (bool, error)
	GetFilters() ([]normalize.Filter, error)
	SetFilters(filters []normalize.Filter) error
}
