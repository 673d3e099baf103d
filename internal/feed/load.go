package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// FetchType selects what LoadListData loads.
type FetchType string

const (
	FetchRefresh  FetchType = "refresh"
	FetchNextPage FetchType = "nextPage"
)

// ErrUnknownFetchType is returned by LoadListData for an unsupported type.
var ErrUnknownFetchType = errors.New("unknown fetch type")

// trimFactor times the newest window is the size past which loadLatest
// trims the tail back to the window.
const trimFactor = 3

// fetchPage loads and normalizes one page under a fresh batch id.
func (e *Engine) fetchPage(ctx context.Context, feed model.FeedType, rng fetch.Range) ([]model.ListItem, string, error) {
	page, err := e.fetcher.Fetch(ctx, feed, rng)
	if err != nil {
		return nil, "", err
	}
	return e.normalizer.NormalizePage(page.Records, feed, uuid.NewString()), page.NextCursor, nil
}

// commit waits for the turn of an operation, locks the owner and checks the
// operation may still apply. On success the caller owns o.mu.
func (e *Engine) commit(ctx context.Context, o *owner, turn <-chan struct{}, gen uint64) error {
	select {
	case <-turn:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.mu.Lock()
	if err := ctx.Err(); err != nil {
		o.mu.Unlock()
		return err
	}
	if err := e.current(gen); err != nil {
		o.mu.Unlock()
		return err
	}
	return nil
}

// fail turns a fetch error into the sticky error row. Called with o.mu
// held.
func (e *Engine) fail(ctx context.Context, o *owner, op string, err error) error {
	kind := fetch.KindOf(err)
	if kind == "" {
		kind = fetch.KindNetwork
	}
	e.Logger.Warn("fetch failed", "feed", o.feed.Key(), "op", op, "kind", kind, "error", err)
	o.ws.failure = &model.ErrorInfo{Kind: string(kind), Message: err.Error()}
	e.emit(o, change{typ: model.UpdateAppend, threshold: -1, background: backgroundOf(ctx)})
	return fmt.Errorf("%s %s: %w", op, o.feed.Key(), err)
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// LoadLatest fetches the newest page and puts the items not yet shown at
// the head. threshold is passed to the unread tracker for those items; 0
// uses the feed default.
func (e *Engine) LoadLatest(ctx context.Context, feed model.FeedType, threshold int) error {
	gen, err := e.admit()
	if err != nil {
		return err
	}
	o := e.owner(feed)
	ctx, cancel := o.opContext(ctx)
	defer cancel()
	turn, release := o.seq.ticket()
	defer release()

	items, next, fetchErr := e.fetchPage(ctx, feed, fetch.Newest)
	if err := e.commit(ctx, o, turn, gen); err != nil {
		return err
	}
	defer o.mu.Unlock()
	if fetchErr != nil {
		if canceled(fetchErr) {
			return fetchErr
		}
		return e.fail(ctx, o, "load latest", fetchErr)
	}

	hadContent := len(o.ws.items) > 0
	fresh, replaced := o.ws.mergeLatest(items, next)
	typ := model.UpdateInsert
	if replaced {
		typ = model.UpdateReplaceAll
	}
	if len(fresh) == 0 {
		typ = model.UpdateUpdate
	}
	if len(o.ws.items) > trimFactor*e.window {
		o.ws.trim(e.window)
	}
	c := change{typ: typ, inserted: fresh, threshold: threshold, background: backgroundOf(ctx)}
	if !hadContent {
		c.threshold = -1
	}
	e.emit(o, c)
	return nil
}

// LoadOlderPosts fetches the page after the stored cursor and appends it.
// A rejected cursor refreshes the feed instead.
func (e *Engine) LoadOlderPosts(ctx context.Context, feed model.FeedType) error {
	gen, err := e.admit()
	if err != nil {
		return err
	}
	o := e.owner(feed)
	o.mu.Lock()
	cursor := o.ws.cursor
	o.mu.Unlock()
	if cursor == "" {
		return nil
	}

	opCtx, cancel := o.opContext(ctx)
	defer cancel()
	turn, release := o.seq.ticket()
	defer release()

	items, next, fetchErr := e.fetchPage(opCtx, feed, fetch.Range{Cursor: cursor})
	if errors.Is(fetchErr, fetch.ErrStaleCursor) {
		release()
		e.Logger.Info("stale cursor, refreshing", "feed", feed.Key())
		return e.LoadListData(ctx, feed, FetchRefresh)
	}
	if err := e.commit(opCtx, o, turn, gen); err != nil {
		return err
	}
	defer o.mu.Unlock()
	if o.ws.cursor != cursor {
		// A refresh replaced the page this one continues.
		return nil
	}
	if fetchErr != nil {
		if canceled(fetchErr) {
			return fetchErr
		}
		return e.fail(opCtx, o, "load older", fetchErr)
	}

	before := len(o.ws.items)
	o.ws.mergeOlder(items, next)
	typ := model.UpdateAppend
	if o.ws.trailer() {
		typ = model.UpdateInject
	}
	e.emit(o, change{typ: typ, inserted: o.ws.items[before:], threshold: -1, background: backgroundOf(opCtx)})
	return nil
}

// LoadListData refreshes a feed from its newest page, replacing the
// working set, or loads the next page.
func (e *Engine) LoadListData(ctx context.Context, feed model.FeedType, ft FetchType) error {
	switch ft {
	case FetchNextPage:
		return e.LoadOlderPosts(ctx, feed)
	case FetchRefresh:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFetchType, ft)
	}

	gen, err := e.admit()
	if err != nil {
		return err
	}
	o := e.owner(feed)
	ctx, cancel := o.opContext(ctx)
	defer cancel()
	turn, release := o.seq.ticket()
	defer release()

	items, next, fetchErr := e.fetchPage(ctx, feed, fetch.Newest)
	if err := e.commit(ctx, o, turn, gen); err != nil {
		return err
	}
	defer o.mu.Unlock()
	if fetchErr != nil {
		if canceled(fetchErr) {
			return fetchErr
		}
		return e.fail(ctx, o, "refresh", fetchErr)
	}
	o.ws.replaceAll(items, next)
	e.emit(o, change{typ: model.UpdateReplaceAll, threshold: -1, background: backgroundOf(ctx)})
	return nil
}
