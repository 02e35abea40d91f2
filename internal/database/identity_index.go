package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// IdentityIndex owns all registered identities and answers nearest-neighbor queries.
//
// The name map is authoritative: a label is a valid identity only while it has a
// name. The vector backend mirrors it exactly, with deleted labels soft-removed.
// All methods are safe for concurrent use; searches share a read lock and every
// mutation takes the write lock, so a search never observes a half-applied change.
type IdentityIndex struct {
	mu        sync.RWMutex
	saveMu    sync.Mutex // orders snapshots written to the store
	cfg       IndexConfig
	backend   VectorIndex
	names     map[int64]string
	vectors   map[int64][]float32
	nextLabel int64
	store     IdentityStore

	// Warnf receives inconsistency diagnostics. Defaults to log.Printf.
	Warnf func(format string, args ...any)
}

// NewIdentityIndex creates an empty index. Invalid configuration is refused.
func NewIdentityIndex(cfg IndexConfig) (*IdentityIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendHNSW
	}

	return &IdentityIndex{
		cfg:       cfg,
		backend:   newVectorIndex(cfg.Backend, cfg.Capacity),
		names:     make(map[int64]string),
		vectors:   make(map[int64][]float32),
		nextLabel: 1,
		Warnf:     log.Printf,
	}, nil
}

// Dim returns the embedding dimension.
func (ix *IdentityIndex) Dim() int {
	return ix.cfg.Dim
}

// Threshold returns the configured default similarity threshold.
func (ix *IdentityIndex) Threshold() float64 {
	return ix.cfg.Threshold
}

// Capacity returns the current capacity of the vector backend.
func (ix *IdentityIndex) Capacity() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.backend.Capacity()
}

// Count returns the number of registered identities.
func (ix *IdentityIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.names)
}

func (ix *IdentityIndex) warnf(format string, args ...any) {
	if ix.Warnf != nil {
		ix.Warnf(format, args...)
	}
}

// validName rejects names the line-oriented store cannot hold.
func validName(name string) bool {
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, "\r\n")
}

// prepare validates an embedding and returns its normalized copy.
func (ix *IdentityIndex) prepare(embedding []float32) ([]float32, error) {
	if len(embedding) != ix.cfg.Dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), ix.cfg.Dim)
	}
	for _, x := range embedding {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("%w: non-finite component", ErrZeroVector)
		}
	}
	vec := facematch.Normalize(embedding)
	if !facematch.IsUnit(vec, unitTolerance) {
		return nil, ErrZeroVector
	}
	return vec, nil
}

// Insert registers a new identity and returns its label. Duplicate names are
// allowed and produce distinct identities.
func (ix *IdentityIndex) Insert(name string, embedding []float32) (int64, error) {
	if !validName(name) {
		return NoLabel, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	vec, err := ix.prepare(embedding)
	if err != nil {
		return NoLabel, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.ensureCapacityLocked(); err != nil {
		return NoLabel, err
	}

	label := ix.nextLabel
	if err := ix.backend.Add(label, vec); err != nil {
		return NoLabel, fmt.Errorf("adding identity %q: %w", name, err)
	}
	ix.nextLabel++
	ix.names[label] = name
	ix.vectors[label] = vec
	return label, nil
}

// ensureCapacityLocked makes room for one more vector, first by compacting
// soft-removed entries and then by doubling the capacity.
func (ix *IdentityIndex) ensureCapacityLocked() error {
	capacity := ix.backend.Capacity()
	if ix.backend.Len() < capacity {
		return nil
	}
	if len(ix.vectors) >= capacity {
		capacity *= 2
		log.Printf("Identity index: growing capacity to %d", capacity)
	}
	if err := ix.backend.Rebuild(capacity, ix.vectors); err != nil {
		return fmt.Errorf("rebuilding vector index: %w", err)
	}
	return nil
}

// Search finds the identity nearest to embedding. Found is false when the index is
// empty or the best similarity is below threshold; Similarity is still reported.
func (ix *IdentityIndex) Search(embedding []float32, threshold float64) (SearchResult, error) {
	query, err := ix.prepare(embedding)
	if err != nil {
		return SearchResult{}, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.names) == 0 {
		return SearchResult{}, nil
	}

	label, dist, ok := ix.backend.Search(query)

	// The HNSW graph search is approximate; confirm a miss with an exact scan.
	if ix.cfg.Backend != BackendExact && (!ok || facematch.SimilarityFromL2(dist) < threshold) {
		if exactLabel, exactDist, found := ix.nearestLocked(query); found && (!ok || exactDist < dist) {
			label, dist, ok = exactLabel, exactDist, true
		}
	}
	if !ok {
		ix.warnf("Identity index: no live vector found for %d identities", len(ix.names))
		return SearchResult{}, nil
	}

	similarity := facematch.SimilarityFromL2(dist)
	name, exists := ix.names[label]
	if !exists {
		ix.warnf("Identity index: nearest label %d has no name (index inconsistent)", label)
		return SearchResult{Similarity: similarity}, nil
	}
	if similarity < threshold {
		return SearchResult{Similarity: similarity}, nil
	}

	return SearchResult{
		Name:       name,
		Label:      label,
		Similarity: similarity,
		Found:      true,
	}, nil
}

// nearestLocked scans every live vector. Ties go to the lower label.
func (ix *IdentityIndex) nearestLocked(query []float32) (int64, float64, bool) {
	var (
		bestLabel int64
		bestDist  float64
		found     bool
	)
	for label, vec := range ix.vectors {
		d := facematch.L2Distance(query, vec)
		if !found || d < bestDist || (d == bestDist && label < bestLabel) {
			bestLabel, bestDist, found = label, d, true
		}
	}
	return bestLabel, bestDist, found
}

// Match searches with the configured default threshold.
func (ix *IdentityIndex) Match(embedding []float32) (SearchResult, error) {
	return ix.Search(embedding, ix.cfg.Threshold)
}

// Delete removes an identity. Returns false if the label is unknown.
func (ix *IdentityIndex) Delete(label int64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.names[label]; !ok {
		return false
	}
	delete(ix.names, label)
	delete(ix.vectors, label)
	if !ix.backend.MarkRemoved(label) {
		ix.warnf("Identity index: label %d had a name but no vector", label)
	}

	// Compact once removed nodes outnumber live ones.
	if removed := ix.backend.Removed(); removed >= HNSWCompactMinRemoved && removed > len(ix.vectors) {
		if err := ix.backend.Rebuild(ix.backend.Capacity(), ix.vectors); err != nil {
			ix.warnf("Identity index: compaction failed: %v", err)
		}
	}
	return true
}

// Rename changes the display name of an identity without touching its embedding.
// Returns false if the label is unknown or the name is empty.
func (ix *IdentityIndex) Rename(label int64, newName string) bool {
	if !validName(newName) {
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.names[label]; !ok {
		return false
	}
	ix.names[label] = newName
	return true
}

// Get returns the identity with the given label, including a copy of its
// normalized embedding.
func (ix *IdentityIndex) Get(label int64) (Identity, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	name, ok := ix.names[label]
	if !ok {
		return Identity{}, false
	}
	return Identity{Label: label, Name: name, Embedding: slices.Clone(ix.vectors[label])}, true
}

// List returns the label and name of every identity, ordered by label.
func (ix *IdentityIndex) List() []Identity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	result := make([]Identity, 0, len(ix.names))
	for label, name := range ix.names {
		result = append(result, Identity{Label: label, Name: name})
	}
	slices.SortFunc(result, func(a, b Identity) int {
		return compareLabels(a.Label, b.Label)
	})
	return result
}

// FindByName returns identities whose name matches ignoring case, diacritics,
// separators and extra whitespace.
func (ix *IdentityIndex) FindByName(name string) []Identity {
	want := facematch.NormalizePersonName(name)

	var result []Identity
	for _, id := range ix.List() {
		if facematch.NormalizePersonName(id.Name) == want {
			result = append(result, id)
		}
	}
	return result
}

func compareLabels(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// snapshot returns copies of all identities with embeddings, ordered by label.
func (ix *IdentityIndex) snapshot() []Identity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	result := make([]Identity, 0, len(ix.names))
	for label, name := range ix.names {
		result = append(result, Identity{
			Label:     label,
			Name:      name,
			Embedding: slices.Clone(ix.vectors[label]),
		})
	}
	slices.SortFunc(result, func(a, b Identity) int {
		return compareLabels(a.Label, b.Label)
	})
	return result
}

// Persist writes the full identity set to path in the line-oriented store format.
func (ix *IdentityIndex) Persist(path string) error {
	return ix.PersistTo(context.Background(), NewFileStore(path, ix.cfg.Dim))
}

// PersistTo writes the full identity set to store. Concurrent calls are
// serialized so a later snapshot is never overwritten by an earlier one.
func (ix *IdentityIndex) PersistTo(ctx context.Context, store IdentityStore) error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	if err := store.Save(ctx, ix.snapshot()); err != nil {
		return fmt.Errorf("persisting identities: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the identities stored at path.
func (ix *IdentityIndex) Load(path string) (LoadReport, error) {
	return ix.LoadFrom(context.Background(), NewFileStore(path, ix.cfg.Dim))
}

// LoadFrom replaces the in-memory state with the identities in store.
// A missing store yields an empty index and a diagnostic. If the store cannot be
// read, the index is reset to empty and the error is returned. Records that fail
// validation are skipped and reported. Stored labels are kept when they are
// positive and unique; other records get fresh labels from the allocator, which
// always continues after the highest stored label.
func (ix *IdentityIndex) LoadFrom(ctx context.Context, store IdentityStore) (LoadReport, error) {
	identities, diags, err := store.Load(ctx)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	report := LoadReport{Diagnostics: diags, Skipped: len(diags)}
	if err != nil {
		ix.resetLocked(ix.cfg.Capacity)
		if errors.Is(err, ErrStoreNotFound) {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{Message: err.Error(), Err: err})
			return report, nil
		}
		return report, fmt.Errorf("loading identities: %w", err)
	}

	ix.resetLocked(max(ix.cfg.Capacity, len(identities)))
	for _, id := range identities {
		ix.nextLabel = max(ix.nextLabel, id.Label+1)
	}
	for i, id := range identities {
		vec, err := ix.prepare(id.Embedding)
		if err == nil && !validName(id.Name) {
			err = fmt.Errorf("%w: %q", ErrInvalidName, id.Name)
		}
		if err != nil {
			report.Skipped++
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Message: fmt.Sprintf("record %d: %v", i+1, err),
			})
			continue
		}

		label := id.Label
		if _, taken := ix.names[label]; taken || label <= NoLabel {
			label = ix.nextLabel
			ix.nextLabel++
		}
		if err := ix.backend.Add(label, vec); err != nil {
			ix.resetLocked(ix.cfg.Capacity)
			return LoadReport{Diagnostics: report.Diagnostics}, fmt.Errorf("indexing identity %q: %w", id.Name, err)
		}
		ix.names[label] = id.Name
		ix.vectors[label] = vec
		report.Loaded++
	}
	return report, nil
}

// resetLocked clears all identities. The label allocator keeps counting.
func (ix *IdentityIndex) resetLocked(capacity int) {
	ix.backend = newVectorIndex(ix.cfg.Backend, capacity)
	ix.names = make(map[int64]string)
	ix.vectors = make(map[int64][]float32)
}

// Clear removes all identities. Labels are not reused afterwards.
func (ix *IdentityIndex) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked(ix.cfg.Capacity)
}

// SetStore sets the store used by Save and Restore.
func (ix *IdentityIndex) SetStore(store IdentityStore) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.store = store
}

// Save persists the index to the configured store. No-op without a store.
func (ix *IdentityIndex) Save(ctx context.Context) error {
	ix.mu.RLock()
	store := ix.store
	ix.mu.RUnlock()

	if store == nil {
		return nil // No store set
	}
	return ix.PersistTo(ctx, store)
}

// Restore loads the index from the configured store. No-op without a store.
func (ix *IdentityIndex) Restore(ctx context.Context) (LoadReport, error) {
	ix.mu.RLock()
	store := ix.store
	ix.mu.RUnlock()

	if store == nil {
		return LoadReport{}, nil
	}
	return ix.LoadFrom(ctx, store)
}
