package feed

import (
	"slices"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// workingSet is the state of one feed. The displayed list is derived from
// it: an optional server status row, the content rows, then one trailing
// sentinel.
type workingSet struct {
	status model.ItemKind
	items  []model.ListItem

	// cursor addresses the page older than the last item; empty at the end
	// of data.
	cursor string
	// pages maps an item to the cursor that followed the page it arrived
	// in. Items inserted by push have no entry.
	pages   map[string]string
	failure *model.ErrorInfo
	loaded  bool
}

// tag records next as the cursor following each item of page.
func (ws *workingSet) tag(page []model.ListItem, next string) {
	if ws.pages == nil {
		ws.pages = make(map[string]string, len(page))
	}
	for _, it := range page {
		ws.pages[it.ID()] = next
	}
}

func (ws *workingSet) list() []model.ListItem {
	out := make([]model.ListItem, 0, len(ws.items)+2)
	if ws.status != "" {
		out = append(out, model.ListItem{Kind: ws.status})
	}
	out = append(out, ws.items...)
	switch {
	case ws.failure != nil:
		out = append(out, model.ErrorItem(ws.failure.Kind, ws.failure.Message))
	case len(ws.items) == 0 && ws.loaded:
		out = append(out, model.EmptyItem())
	case ws.cursor != "" && len(ws.items) > 0:
		out = append(out, model.LoadMoreItem(ws.cursor))
	}
	return out
}

// trailer reports whether list ends with a sentinel after the content.
func (ws *workingSet) trailer() bool {
	l := ws.list()
	return len(l) > 0 && !l[len(l)-1].IsContent()
}

func (ws *workingSet) indexOf(id string) int {
	return slices.IndexFunc(ws.items, func(it model.ListItem) bool { return it.ID() == id })
}

func (ws *workingSet) head() string {
	if len(ws.items) == 0 {
		return ""
	}
	return ws.items[0].ID()
}

// refresh copies fresh data into the existing item at i, keeping the
// record pointers so holders of the old item observe the change.
func (ws *workingSet) refresh(i int, fresh model.ListItem) {
	cur := &ws.items[i]
	switch {
	case cur.Post != nil && fresh.Post != nil:
		cur.Post.MergeOriginal(fresh.Post)
		cur.Post.AuthorName = fresh.Post.AuthorName
		cur.Post.AuthorAvatar = fresh.Post.AuthorAvatar
		cur.Post.RebloggerName = fresh.Post.RebloggerName
	case cur.Activity != nil && fresh.Activity != nil:
		batch, index := cur.Activity.BatchID, cur.Activity.BatchIndex
		post := cur.Activity.Post
		*cur.Activity = *fresh.Activity
		cur.Activity.BatchID, cur.Activity.BatchIndex = batch, index
		if post != nil && fresh.Activity.Post != nil {
			post.MergeOriginal(fresh.Activity.Post)
			cur.Activity.Post = post
		}
	default:
		*cur = fresh
	}
}

// replace swaps the record of the item at i for fresh, keeping its batch
// tags and record pointers.
func (ws *workingSet) replace(i int, fresh model.ListItem) {
	cur := &ws.items[i]
	switch {
	case cur.Post != nil && fresh.Post != nil:
		batch, index := cur.Post.BatchID, cur.Post.BatchIndex
		*cur.Post = *fresh.Post.Clone()
		cur.Post.BatchID, cur.Post.BatchIndex = batch, index
	case cur.Activity != nil && fresh.Activity != nil:
		batch, index := cur.Activity.BatchID, cur.Activity.BatchIndex
		*cur.Activity = *fresh.Activity.Clone()
		cur.Activity.BatchID, cur.Activity.BatchIndex = batch, index
	default:
		*cur = fresh.Clone()
	}
}

// mergeLatest folds the newest page into the set. Known items are refreshed
// in place; unknown ones are prepended in page order. When the page shares
// no item with a non-empty set the set is replaced, since the gap between
// them cannot be paged. It returns the items that are new and whether the
// set was replaced.
func (ws *workingSet) mergeLatest(page []model.ListItem, next string) (fresh []model.ListItem, replaced bool) {
	ws.loaded = true
	ws.failure = nil
	if len(page) == 0 {
		return nil, false
	}
	if len(ws.items) == 0 {
		ws.items = slices.Clone(page)
		ws.cursor = next
		ws.pages = nil
		ws.tag(page, next)
		return page, false
	}

	overlap := false
	for _, it := range page {
		if i := ws.indexOf(it.ID()); i >= 0 {
			ws.refresh(i, it)
			overlap = true
		} else {
			fresh = append(fresh, it)
		}
	}
	if !overlap {
		ws.items = slices.Clone(page)
		ws.cursor = next
		ws.pages = nil
		ws.tag(page, next)
		return fresh, true
	}
	ws.items = append(slices.Clone(fresh), ws.items...)
	ws.tag(page, next)
	return fresh, false
}

// mergeOlder appends a page at the tail. It returns the number of rows
// added.
func (ws *workingSet) mergeOlder(page []model.ListItem, next string) int {
	ws.loaded = true
	ws.failure = nil
	added := 0
	for _, it := range page {
		if i := ws.indexOf(it.ID()); i >= 0 {
			ws.refresh(i, it)
			continue
		}
		ws.items = append(ws.items, it)
		added++
	}
	ws.tag(page, next)
	ws.cursor = next
	return added
}

// replaceAll swaps the content for page, reusing the records of items that
// were already present.
func (ws *workingSet) replaceAll(page []model.ListItem, next string) {
	items := make([]model.ListItem, 0, len(page))
	for _, it := range page {
		if i := ws.indexOf(it.ID()); i >= 0 {
			ws.refresh(i, it)
			items = append(items, ws.items[i])
			continue
		}
		items = append(items, it)
	}
	ws.items = items
	ws.cursor = next
	ws.pages = nil
	ws.tag(items, next)
	ws.loaded = true
	ws.failure = nil
}

// insertNewest puts items at the head, refreshing the ones already present.
// It returns the new items.
func (ws *workingSet) insertNewest(items []model.ListItem) []model.ListItem {
	var fresh []model.ListItem
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID()]; dup {
			continue
		}
		seen[it.ID()] = struct{}{}
		if i := ws.indexOf(it.ID()); i >= 0 {
			ws.refresh(i, it)
			continue
		}
		fresh = append(fresh, it)
	}
	ws.items = append(slices.Clone(fresh), ws.items...)
	ws.loaded = true
	return fresh
}

// resumeAfter sets the cursor of a set that has none to the token of the
// page following its last item.
func (ws *workingSet) resumeAfter(cursor string) {
	if cursor == "" || ws.cursor != "" || len(ws.items) == 0 {
		return
	}
	ws.cursor = cursor
	ws.tag(ws.items[len(ws.items)-1:], cursor)
}

func (ws *workingSet) remove(id string) bool {
	i := ws.indexOf(id)
	if i < 0 {
		return false
	}
	ws.items = slices.Delete(ws.items, i, i+1)
	delete(ws.pages, id)
	return true
}

// cut returns how many of the newest items to keep so that at least n
// remain and the set still ends on a page boundary, along with the cursor
// following that page. ok is false when no kept item came from a page.
func (ws *workingSet) cut(n int) (keep int, cursor string, ok bool) {
	n = max(n, 0)
	if len(ws.items) <= n {
		return len(ws.items), ws.cursor, true
	}
	found := false
	for i := n - 1; i >= 0 && !found; i-- {
		cursor, found = ws.pages[ws.items[i].ID()]
	}
	for i := n; i < len(ws.items) && !found; i++ {
		cursor, found = ws.pages[ws.items[i].ID()]
	}
	if !found {
		return 0, "", false
	}
	keep = n
	for i := len(ws.items) - 1; i >= n; i-- {
		if c, tagged := ws.pages[ws.items[i].ID()]; tagged && c == cursor {
			keep = i + 1
			break
		}
	}
	return keep, cursor, true
}

// trim drops the items older than the newest n, rounding up to the end of
// the page the last kept item came from so the cursor still follows the
// set. It reports whether anything was dropped.
func (ws *workingSet) trim(n int) bool {
	keep, cursor, ok := ws.cut(n)
	if !ok || keep >= len(ws.items) {
		return false
	}
	for _, it := range ws.items[keep:] {
		delete(ws.pages, it.ID())
	}
	clear(ws.items[keep:])
	ws.items = ws.items[:keep]
	ws.cursor = cursor
	return true
}

func (ws *workingSet) reset() {
	*ws = workingSet{}
}

// posts returns every post record of the set, including the ones wrapped
// by activities.
func (ws *workingSet) posts() []*model.PostRecord {
	out := make([]*model.PostRecord, 0, len(ws.items))
	for _, it := range ws.items {
		switch {
		case it.Post != nil:
			out = append(out, it.Post)
		case it.Activity != nil && it.Activity.Post != nil:
			out = append(out, it.Activity.Post)
		}
	}
	return out
}
