package database

import (
	"fmt"
	"slices"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// HNSWIndex wraps the HNSW graph for identity embedding search.
// HNSW doesn't support reliable deletion, so removed labels stay in the graph
// and are filtered out of search results until the next Rebuild.
type HNSWIndex struct {
	graph    *hnsw.Graph[int64]
	removed  map[int64]struct{}
	capacity int
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex(capacity int) *HNSWIndex {
	return &HNSWIndex{
		graph:    newGraph(),
		removed:  make(map[int64]struct{}),
		capacity: capacity,
	}
}

// newGraph creates a graph with Euclidean distance, which on unit vectors
// orders neighbors the same way as cosine similarity.
func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Add adds a single vector to the graph.
func (h *HNSWIndex) Add(label int64, vec []float32) error {
	if h.graph.Len() >= h.capacity {
		return fmt.Errorf("%w: %d/%d", ErrCapacityExceeded, h.graph.Len(), h.capacity)
	}
	if _, ok := h.graph.Lookup(label); ok {
		return fmt.Errorf("%w: %d", ErrDuplicateLabel, label)
	}
	h.graph.Add(hnsw.MakeNode(label, vec))
	return nil
}

// Search finds the nearest neighbor that has not been removed.
func (h *HNSWIndex) Search(query []float32) (int64, float64, bool) {
	total := h.graph.Len()
	if total-len(h.removed) <= 0 {
		return 0, 0, false
	}

	// Request enough candidates that at least one live node is among them.
	k := min(total, len(h.removed)+HNSWSearchMultiplier)
	neighbors := h.graph.Search(query, k)

	var (
		bestLabel int64
		bestDist  float64
		found     bool
	)
	for _, n := range neighbors {
		if _, gone := h.removed[n.Key]; gone {
			continue
		}
		// Compute the exact distance from the node vector rather than trusting
		// the graph's float32 distance.
		d := facematch.L2Distance(query, n.Value)
		if !found || d < bestDist || (d == bestDist && n.Key < bestLabel) {
			bestLabel, bestDist, found = n.Key, d, true
		}
	}
	return bestLabel, bestDist, found
}

// MarkRemoved removes a label from search results (HNSW doesn't support true deletion).
func (h *HNSWIndex) MarkRemoved(label int64) bool {
	if _, ok := h.graph.Lookup(label); !ok {
		return false
	}
	if _, gone := h.removed[label]; gone {
		return false
	}
	h.removed[label] = struct{}{}
	return true
}

// Rebuild builds a fresh graph from the live vectors.
func (h *HNSWIndex) Rebuild(capacity int, live map[int64][]float32) error {
	if len(live) > capacity {
		return fmt.Errorf("%w: %d vectors for capacity %d", ErrCapacityExceeded, len(live), capacity)
	}

	g := newGraph()
	labels := make([]int64, 0, len(live))
	for label := range live {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		g.Add(hnsw.MakeNode(label, live[label]))
	}

	h.graph = g
	h.removed = make(map[int64]struct{})
	h.capacity = capacity
	return nil
}

// Len returns the number of nodes in the graph, removed ones included.
func (h *HNSWIndex) Len() int {
	return h.graph.Len()
}

// Removed returns the number of soft-removed nodes.
func (h *HNSWIndex) Removed() int {
	return len(h.removed)
}

// Capacity returns the maximum number of nodes.
func (h *HNSWIndex) Capacity() int {
	return h.capacity
}
