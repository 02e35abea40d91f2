package database

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ExactIndex is a brute-force nearest-neighbor scan.
// It is exact and fast enough for a few thousand identities.
type ExactIndex struct {
	vectors  map[int64][]float32
	removed  map[int64]struct{}
	capacity int
}

// NewExactIndex creates an empty brute-force index.
func NewExactIndex(capacity int) *ExactIndex {
	return &ExactIndex{
		vectors:  make(map[int64][]float32),
		removed:  make(map[int64]struct{}),
		capacity: capacity,
	}
}

// Add stores a vector.
func (e *ExactIndex) Add(label int64, vec []float32) error {
	if len(e.vectors) >= e.capacity {
		return fmt.Errorf("%w: %d/%d", ErrCapacityExceeded, len(e.vectors), e.capacity)
	}
	if _, ok := e.vectors[label]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateLabel, label)
	}
	e.vectors[label] = vec
	return nil
}

// Search scans every live vector. Ties go to the lower label.
func (e *ExactIndex) Search(query []float32) (int64, float64, bool) {
	var (
		bestLabel int64
		bestDist  float64
		found     bool
	)
	for label, vec := range e.vectors {
		if _, gone := e.removed[label]; gone {
			continue
		}
		d := facematch.L2Distance(query, vec)
		if !found || d < bestDist || (d == bestDist && label < bestLabel) {
			bestLabel, bestDist, found = label, d, true
		}
	}
	return bestLabel, bestDist, found
}

// MarkRemoved excludes a label from search results.
func (e *ExactIndex) MarkRemoved(label int64) bool {
	if _, ok := e.vectors[label]; !ok {
		return false
	}
	if _, gone := e.removed[label]; gone {
		return false
	}
	e.removed[label] = struct{}{}
	return true
}

// Rebuild replaces the contents with the live vectors.
func (e *ExactIndex) Rebuild(capacity int, live map[int64][]float32) error {
	if len(live) > capacity {
		return fmt.Errorf("%w: %d vectors for capacity %d", ErrCapacityExceeded, len(live), capacity)
	}
	e.vectors = make(map[int64][]float32, len(live))
	for label, vec := range live {
		e.vectors[label] = vec
	}
	e.removed = make(map[int64]struct{})
	e.capacity = capacity
	return nil
}

// Len returns the number of stored vectors, removed ones included.
func (e *ExactIndex) Len() int {
	return len(e.vectors)
}

// Removed returns the number of soft-removed vectors.
func (e *ExactIndex) Removed() int {
	return len(e.removed)
}

// Capacity returns the maximum number of stored vectors.
func (e *ExactIndex) Capacity() int {
	return e.capacity
}
