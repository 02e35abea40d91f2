package database

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when an index is constructed with invalid settings.
	ErrInvalidConfig = errors.New("invalid index configuration")
	// ErrDimensionMismatch is returned when an embedding has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrZeroVector is returned when an embedding cannot be normalized.
	ErrZeroVector = errors.New("embedding has zero norm")
	// ErrInvalidName is returned for empty names or names containing line breaks.
	ErrInvalidName = errors.New("invalid identity name")
	// ErrCapacityExceeded is returned by a backend that has no free slots.
	ErrCapacityExceeded = errors.New("vector index capacity exceeded")
	// ErrDuplicateLabel is returned by a backend asked to store a label twice.
	ErrDuplicateLabel = errors.New("label already stored")
	// ErrStoreNotFound is returned by an IdentityStore with nothing persisted yet.
	ErrStoreNotFound = errors.New("identity store not found")
)

// Identity is a registered person and their reference embedding.
type Identity struct {
	Label     int64     `json:"label"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// SearchResult is the outcome of a nearest-neighbor lookup.
// Similarity is reported even when Found is false.
type SearchResult struct {
	Name       string  `json:"name"`
	Label      int64   `json:"label"`
	Similarity float64 `json:"similarity"`
	Found      bool    `json:"found"`
}

// Diagnostic describes a record skipped while loading an identity store.
type Diagnostic struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
	// Err is set when the whole store, not a single record, could not be loaded.
	Err error `json:"-"`
}

func (d Diagnostic) String() string {
	if d.Line <= 0 {
		return d.Message
	}
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// LoadReport summarizes a Load/Restore call.
type LoadReport struct {
	Loaded      int          `json:"loaded"`
	Skipped     int          `json:"skipped"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// IndexConfig holds construction parameters for an IdentityIndex.
type IndexConfig struct {
	Dim       int
	Capacity  int
	Threshold float64
	Backend   string // BackendHNSW (default) or BackendExact
}

// DefaultIndexConfig returns the stock configuration for 512-dim face embeddings.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Dim:       DefaultEmbeddingDim,
		Capacity:  DefaultCapacity,
		Threshold: DefaultThreshold,
		Backend:   BackendHNSW,
	}
}

// Validate checks the configuration and returns an ErrInvalidConfig wrapped error.
func (c IndexConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dim)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.Threshold < -1 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [-1, 1], got %v", ErrInvalidConfig, c.Threshold)
	}
	switch c.Backend {
	case "", BackendHNSW, BackendExact:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return nil
}
