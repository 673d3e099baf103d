package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/scheduler"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	var cfg Config
	cmd := &cli.Command{
		Name:  "feedsync",
		Flags: Flags(),
		Action: func(_ context.Context, c *cli.Command) error {
			return ParseFlags(c, &cfg)
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"feedsync"}, args...)))
	return cfg
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg := parse(t, "--account", "me@home.example")
	require.Equal(t, "me@home.example", cfg.Account)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "feedsync.db", cfg.DB)
	require.Equal(t, model.DefaultNewestWindow, cfg.NewestWindow)
	require.True(t, cfg.ShowOriginalTimestamp)
	require.True(t, cfg.Streaming)
	require.Equal(t, scheduler.DefaultItemSyncDelay, cfg.ItemSyncDelay)
}

func TestParseFlagsValues(t *testing.T) {
	cfg := parse(t,
		"--account", "me@home.example",
		"--log-level", "debug",
		"--newest-window", "20",
		"--item-sync-delay", "2s",
		"--show-original-timestamp=false",
		"--mastodon-url", "https://home.example",
	)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 20, cfg.NewestWindow)
	require.Equal(t, 2*time.Second, cfg.ItemSyncDelay)
	require.False(t, cfg.ShowOriginalTimestamp)
	require.Equal(t, "https://home.example", cfg.MastodonURL)
}

func TestParseFlagsRejectsNonPointer(t *testing.T) {
	err := ParseFlags(&cli.Command{}, Config{})
	require.ErrorIs(t, err, ErrCannotParseFlags)
	var n int
	require.ErrorIs(t, ParseFlags(&cli.Command{}, &n), ErrCannotParseFlags)
}
