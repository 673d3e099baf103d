package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/feedsync/internal/config"
	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/feed"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/logging"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
	"github.com/bryan-buckman/feedsync/internal/push"
	"github.com/bryan-buckman/feedsync/internal/server"
)

const version = "0.1.0"

// quoteCacheSize bounds the normalizer's cache of resolved quotes.
const quoteCacheSize = 512

func main() {
	cmd := &cli.Command{
		Name:    "feedsync",
		Usage:   "Keeps Mastodon and Bluesky feeds in sync for a client",
		Version: version,
		Flags:   config.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if _, err := logging.Init(c.String("log-level")); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg := config.Config{}
	if err := config.ParseFlags(c, &cfg); err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database opened", "type", store.DatabaseType())

	if c.IsSet("show-original-timestamp") {
		if err := store.SetSetting(model.SettingShowOriginalTimestamp, fmt.Sprint(cfg.ShowOriginalTimestamp)); err != nil {
			return fmt.Errorf("save setting: %w", err)
		}
	}
	showOriginal, err := store.GetShowOriginalTimestamp()
	if err != nil {
		return fmt.Errorf("read setting: %w", err)
	}
	filters, err := store.GetFilters()
	if err != nil {
		return fmt.Errorf("read filters: %w", err)
	}
	stored, err := store.GetPollingInterval()
	if err != nil {
		return fmt.Errorf("read polling interval: %w", err)
	}
	var interval atomic.Int64
	interval.Store(int64(stored))

	sets := normalize.NewSets()
	currentUser, _ := lo.Coalesce(cfg.AccountID, cfg.BlueskyActor)
	normalizer, err := normalize.New(logger, sets, quoteCacheSize, normalize.Options{
		CurrentUserID:         currentUser,
		ShowOriginalTimestamp: showOriginal,
		Filters:               filters,
	})
	if err != nil {
		return err
	}

	router, err := buildRouter(logger, cfg)
	if err != nil {
		return err
	}

	hub := server.NewHub(logger, server.DefaultSubscriberBuffer)
	engine, err := feed.New(feed.Config{
		Logger:        logger,
		Fetcher:       router,
		Items:         router,
		Resolver:      router,
		Normalizer:    normalizer,
		Store:         store,
		Presenter:     hub,
		Account:       cfg.Account,
		NewestWindow:  cfg.NewestWindow,
		ItemSyncDelay: cfg.ItemSyncDelay,
		PollInterval: func(f model.FeedType) time.Duration {
			return f.PollingInterval(time.Duration(interval.Load()))
		},
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	menu, err := store.GetMenu(cfg.Account)
	if err != nil {
		return fmt.Errorf("read menu: %w", err)
	}
	if len(menu) == 0 {
		menu = server.DefaultMenu
	}
	if err := engine.HydrateAll(ctx, menu); err != nil {
		logger.Warn("hydrating feeds", "error", err)
	}

	srv, err := server.New(logger, server.Options{
		Engine: engine,
		Store:  store,
		Sets:   sets,
		Hub:    hub,
		OnPollingInterval: func(d time.Duration) {
			interval.Store(int64(d))
			engine.StopPolling()
			engine.StartPolling()
		},
	})
	if err != nil {
		return err
	}

	active := engine.Active()
	go func() {
		if err := engine.LoadLatest(ctx, active, 0); err != nil {
			logger.Warn("initial load failed", "feed", active.Key(), "error", err)
		}
	}()
	engine.StartPolling()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Start(ctx, cfg.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if cfg.Streaming && cfg.MastodonURL != "" && cfg.MastodonToken != "" {
		stream := push.New(logger, cfg.MastodonURL, cfg.MastodonToken)
		g.Go(func() error {
			return stream.Run(ctx, engine.HandleNotification)
		})
	}
	return g.Wait()
}

func openStore(cfg config.Config) (database.Store, error) {
	if cfg.PostgresURL != "" {
		return database.NewPostgres(cfg.PostgresURL)
	}
	return database.New(cfg.DB)
}

// buildRouter routes the account's feeds to the configured home server.
// Mastodon wins when both are configured; Bluesky still serves re-syncs of
// Bluesky posts.
func buildRouter(logger *slog.Logger, cfg config.Config) (*fetch.Router, error) {
	r := &fetch.Router{
		Channels: fetch.NewChannel(logger, fetch.DefaultPageSize),
		Items:    map[model.Schema]fetch.ItemFetcher{},
	}
	if cfg.BlueskyURL != "" {
		forYou := ""
		if strings.HasPrefix(cfg.ForYouURL, "at://") {
			forYou = cfg.ForYouURL
		}
		bsky := fetch.NewBluesky(logger, fetch.BlueskyConfig{
			BaseURL:    cfg.BlueskyURL,
			Token:      cfg.BlueskyToken,
			Actor:      cfg.BlueskyActor,
			ForYouFeed: forYou,
			Timeout:    config.RequestTimeout,
		})
		r.Primary = bsky
		r.Items[model.SchemaBluesky] = bsky
	}
	if cfg.MastodonURL != "" {
		forYou := cfg.ForYouURL
		if strings.HasPrefix(forYou, "at://") {
			forYou = ""
		}
		masto := fetch.NewMastodon(logger, fetch.MastodonConfig{
			BaseURL:   cfg.MastodonURL,
			Token:     cfg.MastodonToken,
			AccountID: cfg.AccountID,
			ForYouURL: forYou,
			Timeout:   config.RequestTimeout,
			Scheme:    "https",
		})
		r.Primary = masto
		r.Items[model.SchemaMastodon] = masto
		r.Quotes = masto
	}
	if r.Primary == nil {
		return nil, errors.New("either --mastodon-url or --bluesky-url is required")
	}
	return r, nil
}
