package hnsw

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/internal/searcher"
)

const (
	// DefaultM is the default number of links per node and layer.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list size during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default candidate list size during search.
	DefaultEFSearch = 64

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// maxLevel caps the randomly drawn node level.
	maxLevel = 16
)

// Options represents the options for configuring HNSW.
type Options struct {
	Dimension      int
	Metric         distance.Metric
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool
	RandomSeed     *int64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	Metric:         distance.MetricCosine,
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Heuristic:      true,
}

type node struct {
	id      uint64
	version uint64
	vector  []float32
	level   int
	friends [][]uint32
}

// Hit is a search result.
type Hit struct {
	ID       uint64
	Distance float32
	// Score is the similarity derived from Distance, higher is better.
	Score float32
}

// HNSW is a Hierarchical Navigable Small World graph over uint64 ids.
type HNSW struct {
	opts  Options
	mmax  int
	mmax0 int
	ml    float64
	dist  distance.Func

	mu         sync.RWMutex
	nodes      []*node
	lookup     map[uint64]uint32
	tombstones *roaring.Bitmap
	entryPoint uint32
	maxLevel   int // -1 while empty
	generation uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a new HNSW index.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, errs.Invalid("dimension", "must be positive, got %d", opts.Dimension)
	}
	if !opts.Metric.Valid() {
		return nil, errs.Invalid("metric", "unsupported metric %v", opts.Metric)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}

	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &HNSW{
		opts:       opts,
		mmax:       opts.M,
		mmax0:      mmax0Multiplier * opts.M,
		ml:         1 / math.Log(float64(opts.M)),
		dist:       dist,
		lookup:     make(map[uint64]uint32),
		tombstones: roaring.New(),
		maxLevel:   -1,
		rng:        rand.New(rand.NewSource(seed)), // nolint gosec
	}, nil
}

// Options returns the effective options of the index.
func (h *HNSW) Options() Options { return h.opts }

// emptyClone returns an empty index with the same parameters.
func (h *HNSW) emptyClone() *HNSW {
	return &HNSW{
		opts:       h.opts,
		mmax:       h.mmax,
		mmax0:      h.mmax0,
		ml:         h.ml,
		dist:       h.dist,
		lookup:     make(map[uint64]uint32),
		tombstones: roaring.New(),
		maxLevel:   -1,
		rng:        h.rng,
	}
}

// prepare validates v and returns the copy stored in the graph.
func (h *HNSW) prepare(v []float32) ([]float32, error) {
	if len(v) != h.opts.Dimension {
		return nil, errs.DimensionMismatch("vector", h.opts.Dimension, len(v))
	}
	if !distance.Finite(v) {
		return nil, errs.Invalid("vector", "contains NaN or Inf")
	}
	if h.opts.Metric == distance.MetricCosine {
		out, ok := distance.NormalizeL2Copy(v)
		if !ok {
			return nil, errs.Invalid("vector", "zero vector cannot be normalized for cosine")
		}
		return out, nil
	}
	return slices.Clone(v), nil
}

func (h *HNSW) randomLevel() int {
	h.rngMu.Lock()
	u := 1 - h.rng.Float64() // (0, 1]
	h.rngMu.Unlock()
	return min(int(math.Floor(-math.Log(u)*h.ml)), maxLevel)
}

// Insert adds or replaces the vector stored for id.
// Replacing tombstones the previous node.
func (h *HNSW) Insert(ctx context.Context, id, version uint64, v []float32) error {
	vec, err := h.prepare(v)
	if err != nil {
		return err
	}
	level := h.randomLevel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h.mu.RLock()
		gen := h.generation
		empty := h.maxLevel < 0
		var plan [][]uint32
		if !empty {
			plan = h.planLinks(vec, level)
		}
		h.mu.RUnlock()

		h.mu.Lock()
		if h.generation != gen || empty != (h.maxLevel < 0) {
			// The graph was rebuilt or seeded meanwhile.
			h.mu.Unlock()
			continue
		}
		h.commit(id, version, vec, level, plan)
		h.mu.Unlock()
		return nil
	}
}

// planLinks finds the neighbours of a new node for every layer it joins.
// Callers hold at least the read lock and the graph is not empty.
func (h *HNSW) planLinks(vec []float32, level int) [][]uint32 {
	ep := h.entryPoint
	epDist := h.dist(vec, h.nodes[ep].vector)
	for l := h.maxLevel; l > level; l-- {
		ep, epDist = h.greedyClosest(vec, ep, epDist, l)
	}

	top := min(level, h.maxLevel)
	plan := make([][]uint32, top+1)
	eps := []searcher.Candidate{{Node: ep, Distance: epDist}}
	for l := top; l >= 0; l-- {
		found, _ := h.searchLayer(vec, eps, h.opts.EFConstruction, l, nil)
		plan[l] = h.selectNeighbours(found, h.opts.M)
		eps = found
	}
	return plan
}

// commit splices a planned node into the graph. Callers hold the write lock.
func (h *HNSW) commit(id, version uint64, vec []float32, level int, plan [][]uint32) {
	internal := uint32(len(h.nodes))
	if old, ok := h.lookup[id]; ok {
		h.tombstones.Add(old)
	}

	n := &node{
		id:      id,
		version: version,
		vector:  vec,
		level:   level,
		friends: make([][]uint32, level+1),
	}
	for l, neighbours := range plan {
		n.friends[l] = slices.Clone(neighbours)
	}
	h.nodes = append(h.nodes, n)
	h.lookup[id] = internal

	for l, neighbours := range plan {
		for _, nb := range neighbours {
			h.link(nb, internal, l)
		}
	}

	if level > h.maxLevel {
		h.entryPoint = internal
		h.maxLevel = level
	}
}

// link adds a directed edge from -> to on level and prunes from's links if needed.
func (h *HNSW) link(from, to uint32, level int) {
	maxConnections := h.mmax
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[from]
	n.friends[level] = append(n.friends[level], to)
	if len(n.friends[level]) <= maxConnections {
		return
	}

	candidates := make([]searcher.Candidate, 0, len(n.friends[level]))
	for _, f := range n.friends[level] {
		candidates = append(candidates, searcher.Candidate{Node: f, Distance: h.dist(n.vector, h.nodes[f].vector)})
	}
	slices.SortFunc(candidates, func(a, b searcher.Candidate) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})
	n.friends[level] = h.selectNeighbours(candidates, maxConnections)
}

// selectNeighbours picks up to m neighbours from candidates sorted by ascending distance.
func (h *HNSW) selectNeighbours(candidates []searcher.Candidate, m int) []uint32 {
	if !h.opts.Heuristic || len(candidates) <= m {
		out := make([]uint32, 0, min(m, len(candidates)))
		for _, c := range candidates[:min(m, len(candidates))] {
			out = append(out, c.Node)
		}
		return out
	}

	selected := make([]uint32, 0, m)
	var discarded []uint32
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		cv := h.nodes[c.Node].vector
		for _, s := range selected {
			if h.dist(cv, h.nodes[s].vector) < c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c.Node)
		} else {
			discarded = append(discarded, c.Node)
		}
	}

	// Keep pruned connections so sparse regions stay reachable.
	for _, d := range discarded {
		if len(selected) >= m {
			break
		}
		selected = append(selected, d)
	}
	return selected
}

// Delete tombstones id. It reports whether id was present.
func (h *HNSW) Delete(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	internal, ok := h.lookup[id]
	if !ok {
		return false
	}
	h.tombstones.Add(internal)
	delete(h.lookup, id)
	return true
}

// Version returns the version stored with id.
func (h *HNSW) Version(id uint64) (uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	internal, ok := h.lookup[id]
	if !ok {
		return 0, false
	}
	return h.nodes[internal].version, true
}

// Vector returns a copy of the stored (possibly normalized) vector of id.
func (h *HNSW) Vector(id uint64) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	internal, ok := h.lookup[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(h.nodes[internal].vector), true
}

// IDs returns the ids of all live vectors.
func (h *HNSW) IDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]uint64, 0, len(h.lookup))
	for id := range h.lookup {
		ids = append(ids, id)
	}
	return ids
}

// Stats describes the size of an index.
type Stats struct {
	Live       int
	Tombstones int
	Nodes      int
	MaxLevel   int
}

// Stats returns current counters.
func (h *HNSW) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Live:       len(h.lookup),
		Tombstones: int(h.tombstones.GetCardinality()),
		Nodes:      len(h.nodes),
		MaxLevel:   h.maxLevel,
	}
}

// Len returns the number of live vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.lookup)
}
