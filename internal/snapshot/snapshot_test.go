package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func entries(ids ...string) []Entry {
	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = Entry{ID: id, Revision: 1}
	}
	return out
}

func replay(t *testing.T, prev, next []Entry) []Entry {
	t.Helper()
	byID := make(map[string]Entry, len(next))
	for _, e := range next {
		byID[e.ID] = e
	}
	changes := Diff(prev, next)
	return Apply(prev, changes, func(id string) Entry { return byID[id] })
}

func TestDiffIdentical(t *testing.T) {
	prev := entries("a", "b", "c")
	require.Empty(t, Diff(prev, entries("a", "b", "c")))
	require.Empty(t, Diff(nil, nil))
}

func TestDiffHeadInsert(t *testing.T) {
	changes := Diff(entries("a", "b", "c"), entries("z", "a", "b", "c"))
	require.Equal(t, []Change{{Op: OpInsert, ID: "z", From: -1, To: 0}}, changes)
}

func TestDiffRemoveAndAppend(t *testing.T) {
	changes := Diff(entries("a", "b", "c"), entries("a", "c", "d"))
	require.Equal(t, []Change{
		{Op: OpRemove, ID: "b", From: 1, To: -1},
		{Op: OpInsert, ID: "d", From: -1, To: 2},
	}, changes)
}

func TestDiffMovesMinimal(t *testing.T) {
	changes := Diff(entries("a", "b", "c", "d"), entries("d", "a", "b", "c"))
	require.Equal(t, []Change{{Op: OpMove, ID: "d", From: 3, To: 0}}, changes)
}

func TestDiffUpdate(t *testing.T) {
	prev := entries("a", "b")
	next := entries("a", "b")
	next[1].Revision = 2
	require.Equal(t, []Change{{Op: OpUpdate, ID: "b", From: 1, To: 1}}, Diff(prev, next))
}

func TestApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		prev []string
		next []string
	}{
		{"empty to full", nil, []string{"a", "b"}},
		{"full to empty", []string{"a", "b"}, nil},
		{"reverse", []string{"a", "b", "c", "d", "e"}, []string{"e", "d", "c", "b", "a"}},
		{"mixed", []string{"a", "b", "c", "d", "e"}, []string{"x", "c", "a", "e", "y", "b"}},
		{"sentinel swap", []string{"a", "~loadMore"}, []string{"a", "b", "~error"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev, next := entries(tc.prev...), entries(tc.next...)
			require.Equal(t, IDs(next), IDs(replay(t, prev, next)))
		})
	}
}

func TestApplyUpdatesContent(t *testing.T) {
	prev := entries("a", "b", "c")
	next := []Entry{{ID: "c", Revision: 7}, {ID: "a", Revision: 1}, {ID: "b", Revision: 3}}
	require.Equal(t, next, replay(t, prev, next))
}

func TestDiffIdempotent(t *testing.T) {
	prev := entries("a", "b", "c")
	next := entries("b", "d", "a")
	applied := replay(t, prev, next)
	require.Empty(t, Diff(applied, next))
}
