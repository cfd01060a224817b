package gallery

import (
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// hnswIndex wraps the HNSW graph used for top-k candidate search.
// Node keys are positions in the gallery's identity slice.
type hnswIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int]
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = database.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(database.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = database.HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// build replaces the graph with one holding every embedding.
func (h *hnswIndex) build(embeddings [][]float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(embeddings) == 0 {
		h.graph = nil
		return
	}

	g := newGraph()
	for i, emb := range embeddings {
		g.Add(hnsw.MakeNode(i, emb))
	}
	h.graph = g
}

// add inserts a single embedding under key.
func (h *hnswIndex) add(key int, embedding []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(key, embedding))
}

// search returns the keys of approximately the k nearest embeddings.
func (h *hnswIndex) search(query []float32, k int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || k <= 0 {
		return nil
	}

	neighbors := h.graph.Search(query, k)
	keys := make([]int, len(neighbors))
	for i, n := range neighbors {
		keys[i] = n.Key
	}
	return keys
}

func (h *hnswIndex) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len()
}
