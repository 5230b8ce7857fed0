package store

import (
	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"
)

// Index is the identity projection of committed rows: table to row key.
// It is derived from the committed log and rebuilt on open.
type Index struct {
	keys map[string]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{keys: make(map[string]map[string]struct{}, len(schema.TableOrder))}
}

// Has reports whether a row identity is committed.
func (ix *Index) Has(table, key string) bool {
	_, ok := ix.keys[table][key]
	return ok
}

// Len returns the number of committed identities.
func (ix *Index) Len() int {
	n := 0
	for _, set := range ix.keys {
		n += len(set)
	}
	return n
}

// CheckNew fails with an AppendOnlyViolation when any row of rec is already committed
// or appears twice in rec.
func (ix *Index) CheckNew(rec *schema.CycleRecord) error {
	seen := make(map[string]map[string]struct{})
	for _, set := range rec.TableRows() {
		local := make(map[string]struct{}, len(set.Rows))
		seen[set.Table] = local
		for _, row := range set.Rows {
			key := row.Key()
			if ix.Has(set.Table, key) {
				return internalerrors.Violationf(exception.ErrAppendOnlyViolation, set.Table, key, "row already committed")
			}
			if _, dup := local[key]; dup {
				return internalerrors.Violationf(exception.ErrAppendOnlyViolation, set.Table, key, "row appears twice in one cycle")
			}
			local[key] = struct{}{}
		}
	}
	return nil
}

// Add records every row identity of rec.
func (ix *Index) Add(rec *schema.CycleRecord) {
	for _, set := range rec.TableRows() {
		keys, ok := ix.keys[set.Table]
		if !ok {
			keys = make(map[string]struct{}, len(set.Rows))
			ix.keys[set.Table] = keys
		}
		for _, row := range set.Rows {
			keys[row.Key()] = struct{}{}
		}
	}
}
