package feed

import (
	"context"
	"errors"

	"github.com/bryan-buckman/feedsync/internal/fetch"
	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/normalize"
)

// watchQuotes starts resolving the quote links of a feed that are still
// loading. Called with o.mu held.
func (e *Engine) watchQuotes(o *owner) {
	if e.resolver == nil {
		return
	}
	for _, p := range o.ws.posts() {
		if p.QuoteStatus != model.QuoteLoading || p.QuoteURL == "" {
			continue
		}
		url := p.QuoteURL
		e.spawn(func(ctx context.Context) {
			e.resolveQuote(ctx, url)
		})
	}
}

// resolveQuote looks a quote link up once, caches the answer and applies
// it to every feed showing the link.
func (e *Engine) resolveQuote(ctx context.Context, url string) {
	v, err, _ := e.quotes.Do(url, func() (any, error) {
		if q, ok := e.normalizer.CachedQuote(url); ok {
			return q, nil
		}
		raw, err := e.resolver.Resolve(ctx, url)
		if err != nil {
			if canceled(err) {
				return nil, err
			}
			if !errors.Is(err, fetch.ErrItemGone) {
				e.Logger.Debug("quote lookup failed", "url", url, "error", err)
			}
			e.normalizer.CacheQuote(url, nil)
			return (*model.PostRecord)(nil), nil
		}
		item, err := e.normalizer.Normalize(raw, normalize.Context{})
		if err != nil || item.Post == nil {
			e.normalizer.CacheQuote(url, nil)
			return (*model.PostRecord)(nil), nil
		}
		e.normalizer.CacheQuote(url, item.Post)
		return item.Post, nil
	})
	if err != nil {
		return
	}
	quoted, _ := v.(*model.PostRecord)

	for _, o := range e.allOwners() {
		_ = e.locked(o.feed, func(o *owner) error {
			changed := false
			for _, p := range o.ws.posts() {
				if p.QuoteStatus == model.QuoteLoading && p.QuoteURL == url {
					e.normalizer.ApplyQuote(p, quoted)
					changed = true
				}
			}
			if changed {
				e.emit(o, change{typ: model.UpdateUpdate, threshold: -1, background: true})
			}
			return nil
		})
	}
}
