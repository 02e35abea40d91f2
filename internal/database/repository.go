package database

import (
	"context"
)

// IdentityStore persists the full identity set.
// Save replaces everything previously stored. Load returns the stored identities in
// their persisted order, per-record diagnostics for skipped records, and an error only
// when the store as a whole could not be read (ErrStoreNotFound if nothing was saved yet).
// Stores that keep labels return them so identities keep their label across
// restarts; records with Label 0 are assigned a fresh label on load.
type IdentityStore interface {
	Save(ctx context.Context, identities []Identity) error
	Load(ctx context.Context) ([]Identity, []Diagnostic, error)
}

// VectorIndex is the nearest-neighbor structure behind an IdentityIndex.
// Implementations are not safe for concurrent use; IdentityIndex serializes access.
type VectorIndex interface {
	// Add stores a unit vector under label.
	Add(label int64, vec []float32) error
	// Search returns the nearest live label and its Euclidean distance.
	Search(query []float32) (label int64, distance float64, ok bool)
	// MarkRemoved excludes label from future searches. Returns false if unknown.
	MarkRemoved(label int64) bool
	// Rebuild discards all state and re-adds live vectors with a new capacity.
	Rebuild(capacity int, live map[int64][]float32) error
	// Len returns the number of stored vectors including soft-removed ones.
	Len() int
	// Removed returns the number of soft-removed vectors.
	Removed() int
	// Capacity returns the maximum number of stored vectors.
	Capacity() int
}

// newVectorIndex creates the backend named by the config.
func newVectorIndex(backend string, capacity int) VectorIndex {
	if backend == BackendExact {
		return NewExactIndex(capacity)
	}
	return NewHNSWIndex(capacity)
}
