package database

// Index defaults
const (
	// DefaultEmbeddingDim is the embedding size produced by ArcFace-style embedders.
	DefaultEmbeddingDim = 512

	// DefaultCapacity is the initial number of vector slots before the index grows.
	DefaultCapacity = 10000

	// DefaultThreshold is the minimum cosine similarity for a match.
	DefaultThreshold = 0.85

	// NoLabel is the label reported for unmatched faces. Real labels start at 1.
	NoLabel int64 = 0

	// UnknownName is the display name of an unmatched face.
	UnknownName = "Unknown"

	// unitTolerance is the allowed deviation from unit norm for stored vectors.
	unitTolerance = 1e-5
)

// Backend names
const (
	BackendHNSW  = "hnsw"
	BackendExact = "exact"
)

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the number of extra candidates requested from HNSW
	// on top of the soft-removed count, so a live neighbor survives filtering.
	HNSWSearchMultiplier = 3

	// HNSWCompactMinRemoved is the number of soft-removed nodes below which
	// the graph is never compacted.
	HNSWCompactMinRemoved = 64
)
