// Package gallery holds the enrolled identities and answers nearest-neighbour
// queries against their face embeddings.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var (
	// ErrEmptyGallery is returned by queries when no identity is enrolled.
	ErrEmptyGallery = errors.New("no identities enrolled")

	// ErrInvalidInput is returned for unusable names or embeddings.
	ErrInvalidInput = errors.New("invalid input")
)

// Identity is an enrolled person.
type Identity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Embedding  []float32 `json:"-"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Candidate is an identity together with its distance to a query.
type Candidate struct {
	Identity Identity `json:"identity"`
	Distance float64  `json:"distance"`
}

// Gallery is the ordered collection of enrolled identities.
// Enroll is serialized; queries run concurrently with each other.
type Gallery struct {
	store database.GalleryStore
	clock clock.Clock
	dim   int

	mu         sync.RWMutex
	identities []Identity
	byID       map[string]int
	nextSeq    int
	index      hnswIndex

	// exactScanLimit is the gallery size up to which Candidates scans every
	// embedding instead of asking the HNSW graph.
	exactScanLimit int
}

// New creates an empty gallery for embeddings of length dim.
// Call Load to populate it from the store.
func New(store database.GalleryStore, dim int, clk clock.Clock) (*Gallery, error) {
	if store == nil {
		return nil, errors.New("gallery store is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalidInput, dim)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Gallery{
		store:   store,
		clock:   clk,
		dim:     dim,
		byID:    make(map[string]int),
		nextSeq: 1,

		exactScanLimit: database.HNSWExactScanLimit,
	}, nil
}

// Load replaces the in-memory gallery with the stored one.
func (g *Gallery) Load(ctx context.Context) error {
	snap, err := g.store.Load(ctx)
	if err != nil {
		return database.Persistence("load gallery", err)
	}

	st, err := g.decode(snap)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.replaceLocked(st)
	return nil
}

// Enroll appends a new identity and persists the whole gallery.
// The id is the next sequence number, zero padded to three digits. The
// stored gallery is re-read under the store's write lock first, so
// identities enrolled by another process sharing the store are kept and
// their ids are not handed out again.
func (g *Gallery) Enroll(ctx context.Context, name string, embedding []float32) (Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Identity{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := g.checkEmbedding(embedding); err != nil {
		return Identity{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		identity Identity
		merged   state
	)
	err := g.store.Update(ctx, func(snap database.GallerySnapshot) (database.GallerySnapshot, error) {
		st, err := g.decode(snap)
		if err != nil {
			return snap, err
		}
		identity = Identity{
			ID:         formatID(max(st.nextSeq, g.nextSeq)),
			Name:       name,
			Embedding:  slices.Clone(embedding),
			EnrolledAt: g.clock.Now().UTC().Truncate(time.Millisecond),
		}
		st.byID[identity.ID] = len(st.identities)
		st.identities = append(st.identities, identity)
		st.nextSeq = max(st.nextSeq, g.nextSeq) + 1
		merged = st
		return st.snapshot(g.dim), nil
	})
	if errors.Is(err, database.ErrCorrupt) {
		return Identity{}, fmt.Errorf("enroll: %w", err)
	}
	if err != nil {
		return Identity{}, database.Persistence("enroll "+identity.ID, err)
	}

	if g.extendsLocked(merged) {
		g.identities = merged.identities
		g.byID = merged.byID
		g.nextSeq = merged.nextSeq
		g.index.add(len(g.identities)-1, identity.Embedding)
	} else {
		g.replaceLocked(merged)
	}
	return cloneIdentity(identity), nil
}

// state is a decoded gallery not yet installed.
type state struct {
	identities []Identity
	byID       map[string]int
	nextSeq    int
}

func (s state) snapshot(dim int) database.GallerySnapshot {
	all := make([]database.StoredIdentity, len(s.identities))
	for i, id := range s.identities {
		all[i] = database.StoredIdentity{
			ID:         id.ID,
			Name:       id.Name,
			Embedding:  id.Embedding,
			EnrolledAt: id.EnrolledAt,
		}
	}
	return database.GallerySnapshot{Dim: dim, Identities: all}
}

// decode validates a stored snapshot against the configured dimension.
func (g *Gallery) decode(snap database.GallerySnapshot) (state, error) {
	if snap.Dim != 0 && snap.Dim != g.dim {
		return state{}, fmt.Errorf("stored dimension %d does not match configured %d: %w",
			snap.Dim, g.dim, database.ErrCorrupt)
	}

	st := state{
		identities: make([]Identity, 0, len(snap.Identities)),
		byID:       make(map[string]int, len(snap.Identities)),
	}
	maxSeq := 0
	for i, stored := range snap.Identities {
		if len(stored.Embedding) != g.dim {
			return state{}, fmt.Errorf("identity %s has %d components, want %d: %w",
				stored.ID, len(stored.Embedding), g.dim, database.ErrCorrupt)
		}
		if _, dup := st.byID[stored.ID]; dup {
			return state{}, fmt.Errorf("duplicate identity id %s: %w", stored.ID, database.ErrCorrupt)
		}
		st.byID[stored.ID] = i
		st.identities = append(st.identities, Identity{
			ID:         stored.ID,
			Name:       stored.Name,
			Embedding:  slices.Clone(stored.Embedding),
			EnrolledAt: stored.EnrolledAt,
		})
		if n, err := strconv.Atoi(stored.ID); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	st.nextSeq = max(maxSeq, len(st.identities)) + 1
	return st, nil
}

// extendsLocked reports whether st is the in-memory gallery plus exactly one
// identity, so the index can be extended instead of rebuilt. Caller holds mu.
func (g *Gallery) extendsLocked(st state) bool {
	if len(st.identities) != len(g.identities)+1 {
		return false
	}
	for i, id := range g.identities {
		if st.identities[i].ID != id.ID {
			return false
		}
	}
	return true
}

// replaceLocked installs st and rebuilds the index. Caller holds mu.
func (g *Gallery) replaceLocked(st state) {
	embeddings := make([][]float32, len(st.identities))
	for i, id := range st.identities {
		embeddings[i] = id.Embedding
	}
	g.identities = st.identities
	g.byID = st.byID
	g.nextSeq = st.nextSeq
	g.index.build(embeddings)
}

// Nearest returns the enrolled identity closest to query by Euclidean
// distance. Ties go to the earliest enrolled identity.
func (g *Gallery) Nearest(query []float32) (Identity, float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.identities) == 0 {
		return Identity{}, 0, ErrEmptyGallery
	}
	if err := g.checkEmbedding(query); err != nil {
		return Identity{}, 0, err
	}

	best, bestDist := g.nearestLocked(query)
	return cloneIdentity(g.identities[best]), bestDist, nil
}

// nearestLocked scans every embedding. Caller holds mu and the gallery is not empty.
func (g *Gallery) nearestLocked(query []float32) (int, float64) {
	best := 0
	bestDist := database.EuclideanDistance(query, g.identities[0].Embedding)
	for i := 1; i < len(g.identities); i++ {
		if d := database.EuclideanDistance(query, g.identities[i].Embedding); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// Candidates returns up to k identities closest to query, nearest first.
// Large galleries are searched through the HNSW graph, with the exact
// nearest identity always included so the first candidate agrees with
// Nearest. Distances are always exact.
func (g *Gallery) Candidates(query []float32, k int) ([]Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.identities) == 0 {
		return nil, ErrEmptyGallery
	}
	if err := g.checkEmbedding(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 1
	}
	k = min(k, len(g.identities))

	var positions []int
	if len(g.identities) <= g.exactScanLimit {
		positions = make([]int, len(g.identities))
		for i := range positions {
			positions[i] = i
		}
	} else {
		best, _ := g.nearestLocked(query)
		positions = append(g.index.search(query, max(k*database.HNSWSearchMultiplier, database.HNSWEfSearch)), best)
	}

	seen := make(map[int]bool, len(positions))
	candidates := make([]Candidate, 0, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(g.identities) || seen[pos] {
			continue
		}
		seen[pos] = true
		candidates = append(candidates, Candidate{
			Identity: g.identities[pos],
			Distance: database.EuclideanDistance(query, g.identities[pos].Embedding),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return g.byID[candidates[i].Identity.ID] < g.byID[candidates[j].Identity.ID]
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	for i := range candidates {
		candidates[i].Identity = cloneIdentity(candidates[i].Identity)
	}
	return candidates, nil
}

// Get returns the identity with the given id.
func (g *Gallery) Get(id string) (Identity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.byID[id]
	if !ok {
		return Identity{}, false
	}
	return cloneIdentity(g.identities[i]), true
}

// FindByName returns identities whose names match ignoring case and diacritics.
func (g *Gallery) FindByName(name string) []Identity {
	want := facematch.NormalizePersonName(strings.TrimSpace(name))
	if want == "" {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var found []Identity
	for _, id := range g.identities {
		if facematch.NormalizePersonName(id.Name) == want {
			found = append(found, cloneIdentity(id))
		}
	}
	return found
}

// List returns all identities in enrollment order.
func (g *Gallery) List() []Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Identity, len(g.identities))
	for i, id := range g.identities {
		out[i] = cloneIdentity(id)
	}
	return out
}

// Len returns the number of enrolled identities.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.identities)
}

// Dim returns the embedding dimensionality the gallery accepts.
func (g *Gallery) Dim() int {
	return g.dim
}

// IndexedCount returns the number of embeddings in the HNSW graph.
func (g *Gallery) IndexedCount() int {
	return g.index.count()
}

func (g *Gallery) checkEmbedding(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: embedding is empty", ErrInvalidInput)
	}
	if len(v) != g.dim {
		return fmt.Errorf("%w: embedding has %d components, want %d", ErrInvalidInput, len(v), g.dim)
	}
	if !database.ValidEmbedding(v) {
		return fmt.Errorf("%w: embedding has non-finite components", ErrInvalidInput)
	}
	return nil
}

func formatID(seq int) string {
	return fmt.Sprintf("%03d", seq)
}

func cloneIdentity(id Identity) Identity {
	id.Embedding = slices.Clone(id.Embedding)
	return id
}
