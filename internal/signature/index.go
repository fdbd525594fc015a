// Package signature tracks which business documents a ledger already holds.
package signature

import "github.com/docledger/docledger/internal/model"

// Index is a set of signatures. It is rebuilt from the ledger at the start
// of every batch and never persisted.
type Index struct {
	seen map[model.Signature]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{seen: make(map[model.Signature]struct{})}
}

// FromRows builds an index from a full ledger scan.
func FromRows(rows []model.Row) *Index {
	idx := New()
	for _, r := range rows {
		idx.Add(r.Signature())
	}
	return idx
}

// Contains reports whether sig has been seen.
func (i *Index) Contains(sig model.Signature) bool {
	_, ok := i.seen[sig]
	return ok
}

// Add records sig.
func (i *Index) Add(sig model.Signature) {
	i.seen[sig] = struct{}{}
}

// Len returns the number of distinct signatures.
func (i *Index) Len() int {
	return len(i.seen)
}
