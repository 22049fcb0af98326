// Package index provides the in-memory ordered secondary index. Keys are
// JSON-comparable scalars; entries are backed by a B-tree with sorted node
// arrays and binary-search lookups.
package index

import (
	"github.com/google/btree"
)

// Degree is the B-tree fan-out.
const Degree = 32

// RowRef locates the rows for a key: the page the row lives on. Readers
// fetch the page and re-check the predicate, so a ref stays valid across
// in-page compaction.
type RowRef struct {
	Page uint32
}

type item struct {
	key  any
	refs []RowRef
}

func (a *item) Less(b btree.Item) bool {
	return Compare(a.key, b.(*item).key) < 0
}

// Index is an ordered map from field value to row references for one
// (table, field) pair. Owned by a single worker; not safe for concurrent
// use.
type Index struct {
	Table string
	Field string

	tree    *btree.BTree
	entries int
}

func New(table, field string) *Index {
	return &Index{
		Table: table,
		Field: field,
		tree:  btree.New(Degree),
	}
}

// Insert adds one (key, ref) pair. Duplicate keys accumulate refs.
func (ix *Index) Insert(key any, ref RowRef) {
	probe := &item{key: key}
	if got := ix.tree.Get(probe); got != nil {
		it := got.(*item)
		it.refs = append(it.refs, ref)
	} else {
		ix.tree.ReplaceOrInsert(&item{key: key, refs: []RowRef{ref}})
	}
	ix.entries++
}

// Delete removes one (key, ref) pair; the key vanishes with its last ref.
func (ix *Index) Delete(key any, ref RowRef) {
	probe := &item{key: key}
	got := ix.tree.Get(probe)
	if got == nil {
		return
	}
	it := got.(*item)
	for i, r := range it.refs {
		if r == ref {
			it.refs = append(it.refs[:i], it.refs[i+1:]...)
			ix.entries--
			break
		}
	}
	if len(it.refs) == 0 {
		ix.tree.Delete(probe)
	}
}

// Find returns the refs stored under key.
func (ix *Index) Find(key any) []RowRef {
	got := ix.tree.Get(&item{key: key})
	if got == nil {
		return nil
	}
	refs := got.(*item).refs
	out := make([]RowRef, len(refs))
	copy(out, refs)
	return out
}

// Range streams refs for keys in [lo, hi] in key order. The yield callback
// returns false to stop early.
func (ix *Index) Range(lo, hi any, yield func(key any, ref RowRef) bool) {
	ix.tree.AscendGreaterOrEqual(&item{key: lo}, func(i btree.Item) bool {
		it := i.(*item)
		if Compare(it.key, hi) > 0 {
			return false
		}
		for _, ref := range it.refs {
			if !yield(it.key, ref) {
				return false
			}
		}
		return true
	})
}

// Stats describes the index shape.
type Stats struct {
	Table   string `json:"table"`
	Field   string `json:"field"`
	Keys    int    `json:"keys"`
	Entries int    `json:"entries"`
}

func (ix *Index) Stats() Stats {
	return Stats{
		Table:   ix.Table,
		Field:   ix.Field,
		Keys:    ix.tree.Len(),
		Entries: ix.entries,
	}
}
