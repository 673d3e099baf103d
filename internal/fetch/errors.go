package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"resty.dev/v3"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindRateLimited Kind = "rateLimited"
	KindMalformed   Kind = "malformed"
	KindStaleCursor Kind = "staleCursor"
	KindItemGone    Kind = "itemGone"
	KindUnsupported Kind = "unsupported"
)

var (
	ErrNetwork         = errors.New("network error")
	ErrRateLimited     = errors.New("rate limited")
	ErrMalformed       = errors.New("malformed response")
	ErrStaleCursor     = errors.New("stale cursor")
	ErrItemGone        = errors.New("item gone")
	ErrUnsupportedFeed = errors.New("feed not supported by backend")
)

var sentinels = map[Kind]error{
	KindNetwork:     ErrNetwork,
	KindRateLimited: ErrRateLimited,
	KindMalformed:   ErrMalformed,
	KindStaleCursor: ErrStaleCursor,
	KindItemGone:    ErrItemGone,
	KindUnsupported: ErrUnsupportedFeed,
}

// Error is a classified fetch failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, sentinels[e.Kind])
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, sentinels[e.Kind], e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of a fetch error, or "" for other errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify maps a resty outcome to a fetch error. Cancellation is returned
// untouched so callers can tell it apart from backend failures.
func classify(op string, res *resty.Response, err error, paged bool) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if res != nil && res.StatusCode() >= 200 && res.StatusCode() < 300 {
			return newError(KindMalformed, op, err)
		}
		return newError(KindNetwork, op, err)
	}
	return classifyStatus(op, res.StatusCode(), paged)
}

func classifyStatus(op string, code int, paged bool) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return newError(KindRateLimited, op, fmt.Errorf("status %d", code))
	case code == http.StatusNotFound || code == http.StatusGone:
		if paged {
			return newError(KindStaleCursor, op, fmt.Errorf("status %d", code))
		}
		return newError(KindItemGone, op, fmt.Errorf("status %d", code))
	case paged && (code == http.StatusBadRequest || code == http.StatusUnprocessableEntity):
		return newError(KindStaleCursor, op, fmt.Errorf("status %d", code))
	}
	return newError(KindNetwork, op, fmt.Errorf("status %d", code))
}
