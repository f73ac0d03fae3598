// Package btreeidx implements the ordered value->row-id multimap used as
// the engine's secondary B-tree index, wrapping github.com/google/btree
// instead of a hand-rolled page-level B+tree.
package btreeidx

import (
	"github.com/google/btree"
)

// entry is one (encoded value, row-id set) node in the tree, ordered by
// plain string comparison of Key. Iteration follows SQL ordering only
// where the caller's encoding sorts that way: internal/engine keys
// entries by Value.String(), under which the integer 10 sorts before 9.
type entry struct {
	Key  string
	IDs  map[string]struct{}
}

func lessEntry(a, b entry) bool { return a.Key < b.Key }

// Index is an ordered map from the caller-supplied value string to the
// set of row ids carrying that value, supporting range iteration.
type Index struct {
	tree *btree.BTreeG[entry]
}

// New returns an empty Index backed by a B-tree of fixed degree 32.
func New() *Index {
	return &Index{tree: btree.NewG(32, lessEntry)}
}

// AddEntry records that rowID carries the given encoded value.
func (idx *Index) AddEntry(value string, rowID string) {
	e, ok := idx.tree.Get(entry{Key: value})
	if !ok {
		e = entry{Key: value, IDs: make(map[string]struct{})}
	}
	e.IDs[rowID] = struct{}{}
	idx.tree.ReplaceOrInsert(e)
}

// RemoveEntry removes rowID from value's row-id set, dropping the value
// entirely once its set is empty.
func (idx *Index) RemoveEntry(value string, rowID string) {
	e, ok := idx.tree.Get(entry{Key: value})
	if !ok {
		return
	}
	delete(e.IDs, rowID)
	if len(e.IDs) == 0 {
		idx.tree.Delete(e)
		return
	}
	idx.tree.ReplaceOrInsert(e)
}

// Search returns the row ids carrying value.
func (idx *Index) Search(value string) map[string]struct{} {
	e, ok := idx.tree.Get(entry{Key: value})
	if !ok {
		return nil
	}
	out := make(map[string]struct{}, len(e.IDs))
	for id := range e.IDs {
		out[id] = struct{}{}
	}
	return out
}

// Range calls fn for every (value, row-id set) pair with value in
// [lo, hi), in ascending key order. A zero-value lo/hi bound means
// unbounded on that side.
func (idx *Index) Range(lo, hi string, fn func(value string, ids map[string]struct{}) bool) {
	iter := func(e entry) bool {
		if hi != "" && e.Key >= hi {
			return false
		}
		return fn(e.Key, e.IDs)
	}
	if lo == "" {
		idx.tree.Ascend(iter)
	} else {
		idx.tree.AscendGreaterOrEqual(entry{Key: lo}, iter)
	}
}

// Len reports the number of distinct values indexed.
func (idx *Index) Len() int { return idx.tree.Len() }
