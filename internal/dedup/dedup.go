// Package dedup detects duplicate transactions via composite-key checks.
//
// Two tiers: in-file duplicates (multiple rows in one upload resolving to the
// same key; only the first occurrence is offered for import) and persisted
// duplicates (keys already present in the store). Persisted duplicates are
// excluded from auto-import unless their key is in the override set, in which
// case the row is offered again and flagged as a reimport.
package dedup

import (
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
)

// Index holds the composite keys of rows already persisted in the store.
// Both the 4-part key and the legacy 3-part key are indexed so transactions
// imported before account paths were recorded keep matching.
type Index struct {
	keys       map[string]struct{}
	legacyKeys map[string]struct{}
}

// NewIndex builds an index from store key snapshots.
func NewIndex(keys, legacyKeys []string) *Index {
	idx := &Index{
		keys:       make(map[string]struct{}, len(keys)),
		legacyKeys: make(map[string]struct{}, len(legacyKeys)),
	}
	for _, k := range keys {
		idx.keys[k] = struct{}{}
	}
	for _, k := range legacyKeys {
		idx.legacyKeys[k] = struct{}{}
	}
	return idx
}

// Contains reports whether the record's key (either form) is already persisted.
func (i *Index) Contains(rec *domain.TransactionRecord) bool {
	if _, ok := i.keys[rec.Key()]; ok {
		return true
	}
	_, ok := i.legacyKeys[rec.LegacyKey()]
	return ok
}

// Size returns the number of indexed 4-part keys.
func (i *Index) Size() int {
	return len(i.keys)
}

// OverrideSet holds keys the user explicitly chose to re-import. The
// persisted-duplicate check is bypassed only for these keys, preventing
// accidental silent overwrite while still allowing intentional correction
// re-imports.
type OverrideSet map[string]struct{}

// NewOverrideSet creates an override set from explicit keys.
func NewOverrideSet(keys ...string) OverrideSet {
	set := make(OverrideSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Contains reports whether key is in the override set.
func (o OverrideSet) Contains(key string) bool {
	_, ok := o[key]
	return ok
}

// Checker runs the two-tier duplicate pass over one upload.
// Not safe for concurrent use; create one checker per import session.
type Checker struct {
	index     *Index
	overrides OverrideSet
	seen      map[string]struct{}
}

// NewChecker creates a checker for one upload against the given store index.
// overrides may be nil.
func NewChecker(index *Index, overrides OverrideSet) *Checker {
	return &Checker{
		index:     index,
		overrides: overrides,
		seen:      make(map[string]struct{}),
	}
}

// Check classifies one record and records its key for subsequent in-file
// checks. Returns the classification and whether the row is an explicit
// reimport of a persisted duplicate.
func (c *Checker) Check(rec *domain.TransactionRecord) (domain.Classification, bool) {
	key := rec.Key()

	if _, ok := c.seen[key]; ok {
		return domain.ClassInFileDuplicate, false
	}
	c.seen[key] = struct{}{}

	if c.index != nil && c.index.Contains(rec) {
		if c.overrides.Contains(key) {
			return domain.ClassNew, true
		}
		return domain.ClassDuplicate, false
	}

	return domain.ClassNew, false
}
