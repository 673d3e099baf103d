package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/scheduler"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Flags returns the flags of the serve command. Every flag also reads an
// environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "The level of the logs",
			Value:   "info",
			Validator: func(value string) error {
				if !slices.Contains(validLogLevels, value) {
					return fmt.Errorf("invalid log level: %s, allowed values are: %s", value, validLogLevels)
				}
				return nil
			},
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Address of the HTTP API",
			Value:   "127.0.0.1:8080",
			Sources: cli.EnvVars("FEEDSYNC_ADDR"),
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "Path of the SQLite cache",
			Value:   "feedsync.db",
			Sources: cli.EnvVars("FEEDSYNC_DB"),
		},
		&cli.StringFlag{
			Name:    "postgres-url",
			Usage:   "PostgreSQL connection string; replaces the SQLite cache when set",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:     "account",
			Usage:    "Full handle of the signed-in account, e.g. me@mastodon.social",
			Required: true,
			Sources:  cli.EnvVars("FEEDSYNC_ACCOUNT"),
		},
		&cli.StringFlag{
			Name:    "mastodon-url",
			Usage:   "Base URL of the home server",
			Sources: cli.EnvVars("MASTODON_URL"),
		},
		&cli.StringFlag{
			Name:    "mastodon-token",
			Usage:   "Access token of the home server",
			Sources: cli.EnvVars("MASTODON_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "account-id",
			Usage:   "Server id of the signed-in account",
			Sources: cli.EnvVars("MASTODON_ACCOUNT_ID"),
		},
		&cli.StringFlag{
			Name:    "bluesky-url",
			Usage:   "Base URL of the AppView",
			Sources: cli.EnvVars("BLUESKY_URL"),
		},
		&cli.StringFlag{
			Name:    "bluesky-token",
			Usage:   "Access JWT of the Bluesky session",
			Sources: cli.EnvVars("BLUESKY_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "bluesky-actor",
			Usage:   "DID of the signed-in Bluesky account",
			Sources: cli.EnvVars("BLUESKY_ACTOR"),
		},
		&cli.StringFlag{
			Name:    "for-you-url",
			Usage:   "Timeline endpoint of the For You ranking service",
			Sources: cli.EnvVars("FOR_YOU_URL"),
		},
		&cli.BoolFlag{
			Name:    "streaming",
			Usage:   "Receive notifications over the streaming API",
			Value:   true,
			Sources: cli.EnvVars("FEEDSYNC_STREAMING"),
		},
		&cli.IntFlag{
			Name:    "newest-window",
			Usage:   "Number of newest items kept and persisted per feed",
			Value:   model.DefaultNewestWindow,
			Sources: cli.EnvVars("FEEDSYNC_NEWEST_WINDOW"),
		},
		&cli.BoolFlag{
			Name:    "show-original-timestamp",
			Usage:   "Show the original post time on reposts",
			Value:   true,
			Sources: cli.EnvVars("FEEDSYNC_SHOW_ORIGINAL_TIMESTAMP"),
		},
		&cli.DurationFlag{
			Name:    "item-sync-delay",
			Usage:   "Time an item stays on screen before it is re-synced",
			Value:   scheduler.DefaultItemSyncDelay,
			Sources: cli.EnvVars("FEEDSYNC_ITEM_SYNC_DELAY"),
		},
	}
}

// RequestTimeout bounds one request of the fetcher adapters.
const RequestTimeout = 15 * time.Second
