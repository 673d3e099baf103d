// Package snapshot computes ordered diffs between two versions of a list of
// identified rows.
//
// A diff is a list of changes meant to be applied in two phases: every
// Remove and every Move source is taken out of the old list (old indices),
// then every Insert and every Move destination is put back in ascending new
// index order. Updates mark rows whose identity survived but whose content
// changed; they never affect positions.
package snapshot

import (
	"slices"
	"sort"
)

// Op is the kind of a change.
type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
	OpMove   Op = "move"
	OpUpdate Op = "update"
)

// Change is one step of a diff. From is the index in the old list (remove,
// move) and To the index in the new list (insert, move, update).
type Change struct {
	Op   Op     `json:"op"`
	ID   string `json:"id"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Entry identifies a row and the revision of its content.
type Entry struct {
	ID       string `json:"id"`
	Revision uint64 `json:"revision"`
}

// IDs returns the identities of entries in order.
func IDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// Diff returns the changes turning prev into next. Rows kept in the same
// relative order stay in place; the smallest set of rows is moved. Identical
// inputs yield no changes. Ids must be unique within each list.
func Diff(prev, next []Entry) []Change {
	oldIndex := make(map[string]int, len(prev))
	for i, e := range prev {
		oldIndex[e.ID] = i
	}
	newIndex := make(map[string]int, len(next))
	for i, e := range next {
		newIndex[e.ID] = i
	}

	// Old positions of surviving rows, in new order.
	var common []int
	var commonNew []int
	for i, e := range next {
		if j, ok := oldIndex[e.ID]; ok {
			common = append(common, j)
			commonNew = append(commonNew, i)
		}
	}
	stable := make(map[int]bool, len(common))
	for _, k := range longestIncreasing(common) {
		stable[commonNew[k]] = true
	}

	var removes, inserts, moves, updates []Change
	for i, e := range prev {
		if _, ok := newIndex[e.ID]; !ok {
			removes = append(removes, Change{Op: OpRemove, ID: e.ID, From: i, To: -1})
		}
	}
	for i, e := range next {
		j, ok := oldIndex[e.ID]
		switch {
		case !ok:
			inserts = append(inserts, Change{Op: OpInsert, ID: e.ID, From: -1, To: i})
		case !stable[i]:
			moves = append(moves, Change{Op: OpMove, ID: e.ID, From: j, To: i})
		}
		if ok && prev[j].Revision != e.Revision {
			updates = append(updates, Change{Op: OpUpdate, ID: e.ID, From: j, To: i})
		}
	}

	out := make([]Change, 0, len(removes)+len(inserts)+len(moves)+len(updates))
	out = append(out, removes...)
	out = append(out, moves...)
	out = append(out, inserts...)
	out = append(out, updates...)
	return out
}

// Apply replays changes on prev. resolve returns the row for an id of the
// new list; it is called for inserted, moved and updated rows.
func Apply[T any](prev []T, changes []Change, resolve func(id string) T) []T {
	var taken []int
	type placement struct {
		at int
		id string
	}
	var placed []placement
	updated := make(map[string]bool)
	for _, c := range changes {
		switch c.Op {
		case OpRemove:
			taken = append(taken, c.From)
		case OpMove:
			taken = append(taken, c.From)
			placed = append(placed, placement{at: c.To, id: c.ID})
		case OpInsert:
			placed = append(placed, placement{at: c.To, id: c.ID})
		case OpUpdate:
			updated[c.ID] = true
		}
	}

	out := slices.Clone(prev)
	sort.Sort(sort.Reverse(sort.IntSlice(taken)))
	for _, i := range taken {
		out = slices.Delete(out, i, i+1)
	}
	sort.Slice(placed, func(a, b int) bool { return placed[a].at < placed[b].at })
	for _, p := range placed {
		out = slices.Insert(out, p.at, resolve(p.id))
	}

	if len(updated) > 0 {
		// Updates carry new indices, valid once positions are final.
		for _, c := range changes {
			if c.Op == OpUpdate {
				out[c.To] = resolve(c.ID)
			}
		}
	}
	return out
}

// longestIncreasing returns the indices into seq of one longest strictly
// increasing subsequence.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	tails := make([]int, 0, len(seq))
	parent := make([]int, len(seq))
	for i, v := range seq {
		k := sort.Search(len(tails), func(j int) bool { return seq[tails[j]] >= v })
		if k > 0 {
			parent[i] = tails[k-1]
		} else {
			parent[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}
	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i-- {
		out[i] = k
		k = parent[k]
	}
	return out
}
