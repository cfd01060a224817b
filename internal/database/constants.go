package database

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWExactScanLimit is the gallery size up to which top-k queries scan
	// every embedding instead of asking the graph.
	HNSWExactScanLimit = 4096

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so exact re-ranking still has k results to choose from.
	HNSWSearchMultiplier = 3
)

// DefaultEmbeddingDim is the dimensionality of dlib-style face encodings.
const DefaultEmbeddingDim = 128
