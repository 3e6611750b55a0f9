package feed

import (
	"github.com/google/btree"
)

const indexDegree = 16

// Index is an in-memory ordered set of entries, unique by post id.
// It is not safe for concurrent use; MemoryIndexStore guards it.
type Index struct {
	tree *btree.BTreeG[Entry]
	ids  map[int64]Entry
}

// NewIndex builds an index seeded with entries. Duplicate post ids keep the first entry.
func NewIndex(entries ...Entry) *Index {
	ix := &Index{
		tree: btree.NewG(indexDegree, Entry.Less),
		ids:  make(map[int64]Entry, len(entries)),
	}
	for _, e := range entries {
		ix.Insert(e)
	}
	return ix
}

// Insert adds e unless its post id is already present.
func (ix *Index) Insert(e Entry) bool {
	if _, ok := ix.ids[e.PostID]; ok {
		return false
	}
	ix.ids[e.PostID] = e
	ix.tree.ReplaceOrInsert(e)
	return true
}

// Contains reports whether exactly e (same post id and publish time) is indexed.
func (ix *Index) Contains(e Entry) bool {
	got, ok := ix.ids[e.PostID]
	return ok && got.Equal(e)
}

func (ix *Index) Len() int { return ix.tree.Len() }

// HeadWindow returns up to n of the newest entries, newest first.
func (ix *Index) HeadWindow(n int) []Entry {
	out := make([]Entry, 0, min(n, ix.Len()))
	if n <= 0 {
		return out
	}
	ix.tree.Descend(func(e Entry) bool {
		out = append(out, e)
		return len(out) < n
	})
	return out
}

// WindowBefore returns up to n entries strictly older than cursor, newest first.
// A cursor that is not in the index yields an empty window.
func (ix *Index) WindowBefore(cursor Entry, n int) []Entry {
	out := make([]Entry, 0)
	if n <= 0 || !ix.Contains(cursor) {
		return out
	}
	ix.tree.DescendLessOrEqual(cursor, func(e Entry) bool {
		if e.Equal(cursor) {
			return true
		}
		out = append(out, e)
		return len(out) < n
	})
	return out
}

// Entries returns every entry, newest first.
func (ix *Index) Entries() []Entry { return ix.HeadWindow(ix.Len()) }
