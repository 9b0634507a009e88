// Package store persists problem embeddings. Every backend keeps one
// record per problem, upserted by ID, and can hand the whole
// collection back for scoring. Backends that serialize vectors as text
// go through engine/vector's codec so the format is interpreted in
// exactly one place.
package store

import (
	"context"
	"maps"
	"slices"
)

// Meta keys shared by all backends.
const (
	MetaTitle = "title"
	MetaSHA   = "sha"
)

// Record is one stored embedding with its lookup metadata. Meta
// carries presentation fields (title) and the content hash used for
// change detection.
type Record struct {
	ID     string
	Vector []float32
	Meta   map[string]string
}

// Clone returns a deep copy so callers can hold records across
// later writes.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Vector: slices.Clone(r.Vector), Meta: maps.Clone(r.Meta)}
}

// VectorStore is the persistence contract for embeddings.
//
// BulkRead returns all records ordered by ID so scoring runs are
// reproducible. Get reports a missing record as found=false, not an
// error; the indexer uses it for change detection. Upsert replaces by
// ID. Delete of an absent ID is a no-op.
type VectorStore interface {
	BulkRead(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
}
