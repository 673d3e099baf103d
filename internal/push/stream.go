// Package push consumes the notification stream of a Mastodon-compatible
// server and hands every notification to the feed engine.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-mastodon"

	"github.com/bryan-buckman/feedsync/internal/metrics"
)

const (
	// MinBackoff is the first delay before reconnecting.
	MinBackoff = time.Second
	// MaxBackoff caps the delay between reconnects.
	MaxBackoff = 2 * time.Minute
	// ReadTimeout closes a connection that stayed silent, pings included.
	ReadTimeout = 90 * time.Second
)

// ErrBadEndpoint is returned when the server URL cannot be turned into a
// streaming endpoint.
var ErrBadEndpoint = errors.New("bad streaming endpoint")

// Handler receives decoded notifications. Errors are logged and do not end
// the stream.
type Handler func(*mastodon.Notification) error

// message is one frame of the streaming API. Payload holds JSON encoded as
// a string.
type message struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// Stream keeps a websocket to the user notification stream open,
// reconnecting with exponential backoff.
type Stream struct {
	Logger *slog.Logger

	baseURL string
	token   string
	dialer  *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration
}

func New(logger *slog.Logger, baseURL, token string) *Stream {
	return &Stream{
		Logger:     logger.With("component", "push.Stream"),
		baseURL:    baseURL,
		token:      token,
		dialer:     websocket.DefaultDialer,
		minBackoff: MinBackoff,
		maxBackoff: MaxBackoff,
	}
}

// endpoint returns the websocket URL of the notification stream.
func (s *Stream) endpoint() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadEndpoint, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrBadEndpoint, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/streaming"
	u.RawQuery = url.Values{"stream": {"user:notification"}}.Encode()
	return u.String(), nil
}

// Run streams until ctx is done. It only returns early when the endpoint
// is invalid.
func (s *Stream) Run(ctx context.Context, handle Handler) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}
	backoff := s.minBackoff
	for {
		connected, err := s.session(ctx, endpoint, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = s.minBackoff
		}
		s.Logger.Warn("stream disconnected", "error", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// session runs one connection. It reports whether the connection was
// established.
func (s *Stream) session(ctx context.Context, endpoint string, handle Handler) (bool, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		metrics.StreamConnects.WithLabelValues("error").Inc()
		return false, fmt.Errorf("dial: %w", err)
	}
	metrics.StreamConnects.WithLabelValues("ok").Inc()
	s.Logger.Info("stream connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))

		n, err := decode(data)
		if err != nil {
			s.Logger.Debug("skipping frame", "error", err)
			continue
		}
		if n == nil {
			continue
		}
		if err := handle(n); err != nil {
			s.Logger.Debug("notification not applied", "id", n.ID, "error", err)
		}
	}
}

// decode returns the notification carried by a frame, or nil for other
// events.
func decode(data []byte) (*mastodon.Notification, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m.Event != "notification" {
		return nil, nil
	}
	var n mastodon.Notification
	if err := json.Unmarshal([]byte(m.Payload), &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		return nil, errors.New("notification without id")
	}
	return &n, nil
}
