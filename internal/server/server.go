// Package server exposes the feed engine over HTTP. Clients read working
// sets and report viewport events through the JSON API and follow committed
// updates on a server-sent event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/database"
	"github.com/bryan-buckman/feedsync/internal/events"
	"github.com/bryan-buckman/feedsync/internal/feed"
	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
	"github.com/bryan-buckman/feedsync/internal/opml"
	"github.com/bryan-buckman/feedsync/internal/tracker"
)

// DefaultMenu is shown to an account that never saved a feed menu.
var DefaultMenu = []model.FeedType{
	model.Following,
	model.ForYou,
	model.Federated,
	model.MentionsIn,
	model.Activity,
	model.Bookmarks,
	model.Likes,
}

// LoadTimeout bounds a load triggered by a request.
const LoadTimeout = time.Minute

// Options wires the server to the engine and its collaborators.
type Options struct {
	Engine *feed.Engine
	Store  database.Store
	Sets   *normalize.Sets
	Hub    *Hub

	// OnPollingInterval is called after the polling interval setting
	// changed.
	OnPollingInterval func(time.Duration)
}

// Server is the main HTTP server.
type Server struct {
	Logger *slog.Logger

	engine  *feed.Engine
	store   database.Store
	sets    *normalize.Sets
	hub     *Hub
	onPoll  func(time.Duration)
	router  chi.Router
	started time.Time
}

// New creates a new server.
func New(logger *slog.Logger, opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Store == nil || opts.Hub == nil {
		return nil, errors.New("server: engine, store and hub are required")
	}
	s := &Server{
		Logger:  logger.With("component", "server.Server"),
		engine:  opts.Engine,
		store:   opts.Store,
		sets:    opts.Sets,
		hub:     opts.Hub,
		onPoll:  opts.OnPollingInterval,
		started: time.Now(),
	}
	if s.sets == nil {
		s.sets = normalize.NewSets()
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/feeds", s.handleGetMenu)
		r.Put("/feeds", s.handleSetMenu)
		r.Post("/feeds/active", s.handleChangeFeed)
		r.Post("/trim", s.handleTrimAll)

		r.Route("/feeds/{key}", func(r chi.Router) {
			r.Get("/", s.handleGetFeed)
			r.Post("/refresh", s.handleLoad(feed.FetchRefresh))
			r.Post("/next", s.handleLoad(feed.FetchNextPage))
			r.Post("/latest", s.handleLatest)
			r.Post("/scroll", s.handleCacheScroll)
			r.Post("/restore", s.handleRestoreScroll)
			r.Post("/top", s.handleScrolledToTop)
			r.Post("/away", s.handleScrolledAway)
			r.Post("/dismiss", s.handleDismiss)
			r.Post("/visible", s.handleVisible)
			r.Post("/hidden", s.handleHidden)
			r.Post("/clear-error", s.handleClearError)
			r.Post("/trim", s.handleTrim)
			r.Delete("/items", s.handleRemove)
		})

		r.Post("/actions", s.handleAction)
		r.Post("/account/will-switch", s.handleWillSwitch)
		r.Post("/account/did-switch", s.handleDidSwitch)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
		r.Post("/moderation", s.handleModeration)
		r.Post("/follows", s.handleFollow)

		r.Post("/foryou/status", s.handleForYouStatus)
		r.Post("/foryou/reload", s.handleForYouReload)

		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("server starting", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// --- Feeds ---

func (s *Server) menu() ([]model.FeedType, error) {
	feeds, err := s.store.GetMenu(s.engine.Account())
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return DefaultMenu, nil
	}
	return feeds, nil
}

// feedParam parses the feed key of the route. Keys are path escaped since
// channel ids may contain slashes. The menu entry supplies the title and
// URL the key does not carry.
func (s *Server) feedParam(r *http.Request) (model.FeedType, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return model.FeedType{}, fmt.Errorf("%w: %w", model.ErrInvalidFeedKey, err)
	}
	return s.lookup(key)
}

func (s *Server) lookup(key string) (model.FeedType, error) {
	ft, err := model.ParseFeedType(key)
	if err != nil {
		return model.FeedType{}, err
	}
	menu, err := s.menu()
	if err != nil {
		s.Logger.Warn("reading menu", "error", err)
		return ft, nil
	}
	if found, ok := lo.Find(menu, ft.Equal); ok {
		return found, nil
	}
	return ft, nil
}

type menuEntry struct {
	Key   string         `json:"key"`
	Title string         `json:"title"`
	Feed  model.FeedType `json:"feed"`
}

func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.menu()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"account": s.engine.Account(),
		"active":  s.engine.Active().Key(),
		"feeds": lo.Map(feeds, func(f model.FeedType, _ int) menuEntry {
			return menuEntry{Key: f.Key(), Title: f.DisplayTitle(), Feed: f}
		}),
	})
}

func (s *Server) handleSetMenu(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feeds []model.FeedType `json:"feeds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	for _, f := range req.Feeds {
		if _, err := model.ParseFeedType(f.Key()); err != nil {
			s.fail(w, err)
			return
		}
	}
	feeds := lo.UniqBy(req.Feeds, model.FeedType.Key)
	if err := s.store.SetMenu(s.engine.Account(), feeds); err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), LoadTimeout)
	defer cancel()
	if err := s.engine.HydrateAll(ctx, feeds); err != nil {
		s.Logger.Warn("hydrating menu", "error", err)
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "feeds": len(feeds)})
}

func (s *Server) handleChangeFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feed string `json:"feed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	ft, err := s.lookup(req.Feed)
	if err != nil {
		s.fail(w, err)
		return
	}
	// The engine keeps loading after the request returns.
	ctx := context.WithoutCancel(r.Context())
	if err := s.engine.ChangeFeed(ctx, ft); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "active": ft.Key()})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := map[string]interface{}{
		"feed":   ft,
		"items":  s.engine.Items(ft),
		"unread": s.engine.Unread(ft),
	}
	if pos, ok := s.engine.Scroll().Get(ft); ok {
		resp["scroll"] = pos
	}
	writeJSON(w, resp)
}

func (s *Server) handleLoad(ft feed.FetchType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := s.feedParam(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), LoadTimeout)
		defer cancel()
		if err := s.engine.LoadListData(ctx, f, ft); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"status": "ok", "items": len(s.engine.Items(f))})
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), LoadTimeout)
	defer cancel()
	if err := s.engine.LoadLatest(ctx, ft, 1); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "unread": s.engine.Unread(ft)})
}

func (s *Server) handleCacheScroll(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var vp tracker.Viewport
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil || !vp.Reference.Valid() {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	pos, ok := s.engine.CacheScroll(ft, vp)
	writeJSON(w, map[string]interface{}{"cached": ok, "scroll": pos})
}

// handleRestoreScroll returns the boundary coordinate that keeps the cached
// anchor in place. Rows without a measured height use the default estimate.
func (s *Server) handleRestoreScroll(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req struct {
		Heights  map[string]float64 `json:"heights"`
		Estimate float64            `json:"estimate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	layout := tracker.NewHeightCache()
	if req.Estimate > 0 {
		layout.Estimate = req.Estimate
	}
	for id, h := range req.Heights {
		layout.Record(id, h)
	}
	ids := lo.Map(s.engine.Items(ft), func(it model.ListItem, _ int) string { return it.ID() })
	boundary, ok := s.engine.Scroll().Restore(ft, ids, layout)
	writeJSON(w, map[string]interface{}{"restored": ok, "boundary": boundary})
}

func (s *Server) handleScrolledToTop(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.ScrolledToTop(ft); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleScrolledAway(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.engine.ScrolledAway(ft)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.engine.UnreadTracker().Dismiss(ft)
	writeJSON(w, map[string]interface{}{"status": "ok", "unread": s.engine.Unread(ft)})
}

type rowEvent struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req rowEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	s.engine.ItemVisible(ft, req.Position, req.ID)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHidden(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req rowEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	s.engine.ItemHidden(ft, req.Position)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.ClearErrorState(ft); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.RemoveOldItems(ft); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "items": len(s.engine.Items(ft))})
}

func (s *Server) handleTrimAll(w http.ResponseWriter, r *http.Request) {
	s.engine.TrimAll()
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleRemove drops one item. The id is a query parameter since unique
// ids are URLs.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ft, err := s.feedParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		if err := s.engine.RemoveAll(ft); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}
	if err := s.engine.Remove(ft, id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Actions and account ---

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric model.Metric `json:"metric"`
		ID     string       `json:"id"`
		Value  bool         `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if !lo.Contains(model.Metrics, req.Metric) {
		http.Error(w, fmt.Sprintf("Unknown metric %q", req.Metric), http.StatusBadRequest)
		return
	}
	if err := s.engine.ToggleMetric(req.Metric, req.ID, req.Value); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWillSwitch(w http.ResponseWriter, r *http.Request) {
	s.engine.WillSwitchAccount()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDidSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.engine.DidSwitchAccount(req.Account); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "account": req.Account})
}

// --- Settings and moderation ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.store.GetPollingInterval()
	if err != nil {
		s.fail(w, err)
		return
	}
	opts := s.engine.Normalizer().Options()
	blocked, muted := s.sets.Snapshot()
	writeJSON(w, map[string]interface{}{
		"polling_interval":        int(interval / time.Second),
		"show_original_timestamp": opts.ShowOriginalTimestamp,
		"filters":                 lo.Ternary(opts.Filters == nil, []normalize.Filter{}, opts.Filters),
		"blocked":                 blocked,
		"muted":                   muted,
		"database":                s.store.DatabaseType(),
	})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval       *int                `json:"polling_interval"`
		ShowOriginalTimestamp *bool               `json:"show_original_timestamp"`
		Filters               *[]normalize.Filter `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	resp := map[string]interface{}{"status": "ok"}
	if req.PollingInterval != nil {
		// Enforce minimum.
		d := max(time.Duration(*req.PollingInterval)*time.Second, model.MinPollingInterval)
		if err := s.store.SetPollingInterval(d); err != nil {
			s.fail(w, err)
			return
		}
		if s.onPoll != nil {
			s.onPoll(d)
		}
		resp["polling_interval"] = int(d / time.Second)
	}

	opts := s.engine.Normalizer().Options()
	changed := false
	if req.ShowOriginalTimestamp != nil {
		if err := s.store.SetSetting(model.SettingShowOriginalTimestamp, fmt.Sprint(*req.ShowOriginalTimestamp)); err != nil {
			s.fail(w, err)
			return
		}
		opts.ShowOriginalTimestamp = *req.ShowOriginalTimestamp
		changed = true
	}
	if req.Filters != nil {
		if err := s.store.SetFilters(*req.Filters); err != nil {
			s.fail(w, err)
			return
		}
		opts.Filters = *req.Filters
		changed = true
	}
	if changed {
		s.engine.Normalizer().SetOptions(opts)
		s.engine.Bus().Moderation.Publish(events.ModerationChanged{})
	}
	writeJSON(w, resp)
}

func (s *Server) handleModeration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle  string `json:"handle"`
		Blocked *bool  `json:"blocked"`
		Muted   *bool  `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Handle == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Blocked != nil {
		s.sets.SetBlocked(req.Handle, *req.Blocked)
	}
	if req.Muted != nil {
		s.sets.SetMuted(req.Handle, *req.Muted)
	}
	s.engine.Bus().Moderation.Publish(events.ModerationChanged{})
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	var req events.FollowStatusChanged
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	s.engine.Bus().Follows.Publish(req)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleForYouStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status feed.ForYouStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetForYouStatus(req.Status); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleForYouReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), LoadTimeout)
	defer cancel()
	if err := s.engine.ForceReloadForYou(ctx); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "items": len(s.engine.Items(model.ForYou))})
}

// --- OPML ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	imported, err := opml.Parse(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse OPML: %v", err), http.StatusBadRequest)
		return
	}
	current, err := s.menu()
	if err != nil {
		s.fail(w, err)
		return
	}
	merged := lo.UniqBy(append(append([]model.FeedType{}, current...), imported...), model.FeedType.Key)
	if err := s.store.SetMenu(s.engine.Account(), merged); err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"imported": len(merged) - len(current),
		"total":    len(imported),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.menu()
	if err != nil {
		s.fail(w, err)
		return
	}
	data, err := opml.Export("feedsync feeds", feeds)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedsync-feeds.opml")
	_, _ = w.Write(data)
}

// --- Stream ---

// handleEvents streams every committed update descriptor as a server-sent
// event. The stream ends when the client falls behind; it reconnects and
// reloads the feeds it shows.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	updates, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ready\ndata: {\"active\":%q}\n\n", s.engine.Active().Key())
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case d, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(d)
			if err != nil {
				s.Logger.Error("encoding update", "feed", d.Feed.Key(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":      "ok",
		"database":    s.store.DatabaseType(),
		"account":     s.engine.Account(),
		"subscribers": s.hub.Len(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidFeedKey),
		errors.Is(err, feed.ErrUnknownFetchType),
		errors.Is(err, feed.ErrUnknownStatus):
		code = http.StatusBadRequest
	case errors.Is(err, feed.ErrUnknownItem):
		code = http.StatusNotFound
	case errors.Is(err, feed.ErrSwitchingAccount):
		code = http.StatusConflict
	case errors.Is(err, feed.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case fetch.KindOf(err) != "":
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.Logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), code)
}
