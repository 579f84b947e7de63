package hnsw

import (
	"context"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/internal/searcher"
)

// budgetCheckInterval is the number of node expansions between deadline checks.
const budgetCheckInterval = 32

// budget caps exploration by the context deadline.
type budget struct {
	ctx   context.Context
	steps int
	done  bool
}

func (b *budget) step() bool {
	if b.done {
		return false
	}
	if b.steps%budgetCheckInterval == 0 && b.ctx.Err() != nil {
		b.done = true
		return false
	}
	b.steps++
	return true
}

// greedyClosest walks level from ep towards q and returns the closest node found.
func (h *HNSW) greedyClosest(q []float32, ep uint32, epDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		n := h.nodes[ep]
		if level >= len(n.friends) {
			break
		}
		for _, nb := range n.friends[level] {
			if d := h.dist(q, h.nodes[nb].vector); d < epDist {
				ep, epDist = nb, d
				changed = true
			}
		}
	}
	return ep, epDist
}

// searchLayer runs the best-first beam search on one layer and returns up to
// ef items ordered by ascending distance. A nil budget never expires.
func (h *HNSW) searchLayer(q []float32, eps []searcher.Candidate, ef int, level int, b *budget) ([]searcher.Candidate, bool) {
	visited := bitset.New(uint(len(h.nodes)))
	candidates := searcher.NewNearestQueue()
	results := searcher.NewFarthestQueue()

	for _, ep := range eps {
		if visited.Test(uint(ep.Node)) {
			continue
		}
		visited.Set(uint(ep.Node))
		candidates.Push(ep)
		results.PushBounded(ep, ef)
	}

	exhausted := false
	for candidates.Len() > 0 {
		if b != nil && !b.step() {
			exhausted = true
			break
		}

		c, _ := candidates.Pop()
		if worst, _ := results.Top(); results.Len() >= ef && c.Distance > worst.Distance {
			break
		}

		n := h.nodes[c.Node]
		if level >= len(n.friends) {
			continue
		}
		for _, nb := range n.friends[level] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			item := searcher.Candidate{Node: nb, Distance: h.dist(q, h.nodes[nb].vector)}
			if results.PushBounded(item, ef) {
				candidates.Push(item)
			}
		}
	}

	return results.Drain(), exhausted
}

// Search returns up to k live vectors closest to q.
//
// ef is the candidate list size: larger values raise recall at the cost of
// latency; values below k are raised to k and ef <= 0 selects the configured
// EFSearch. The context deadline caps the number of expanded nodes; when it
// fires mid-search the best results found so far are returned with
// truncated=true. Searching an empty index returns no hits and no error.
func (h *HNSW) Search(ctx context.Context, q []float32, k, ef int) (hits []Hit, truncated bool, err error) {
	if k <= 0 {
		return nil, false, errs.Invalid("k", "must be positive, got %d", k)
	}
	query, err := h.prepare(q)
	if err != nil {
		return nil, false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel < 0 || len(h.lookup) == 0 {
		return nil, false, nil
	}

	if ef <= 0 {
		ef = h.opts.EFSearch
	}
	ef = max(ef, k)
	if dead := int(h.tombstones.GetCardinality()); dead > 0 {
		// Tombstones occupy candidate slots without being returnable.
		ef += min(dead, 4*ef)
	}

	b := &budget{ctx: ctx}
	ep := h.entryPoint
	epDist := h.dist(query, h.nodes[ep].vector)
	for l := h.maxLevel; l > 0; l-- {
		ep, epDist = h.greedyClosest(query, ep, epDist, l)
	}

	found, exhausted := h.searchLayer(query, []searcher.Candidate{{Node: ep, Distance: epDist}}, ef, 0, b)

	hits = make([]Hit, 0, k)
	for _, it := range found {
		if h.tombstones.Contains(it.Node) {
			continue
		}
		hits = append(hits, Hit{
			ID:       h.nodes[it.Node].id,
			Distance: it.Distance,
			Score:    distance.Score(h.opts.Metric, it.Distance),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, exhausted, nil
}

// BruteSearch returns the exact k nearest live vectors to q.
func (h *HNSW) BruteSearch(ctx context.Context, q []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errs.Invalid("k", "must be positive, got %d", k)
	}
	query, err := h.prepare(q)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	results := searcher.NewFarthestQueue()
	for i, n := range h.nodes {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if h.tombstones.Contains(uint32(i)) {
			continue
		}
		results.PushBounded(searcher.Candidate{Node: uint32(i), Distance: h.dist(query, n.vector)}, k)
	}

	sorted := results.Drain()
	hits := make([]Hit, 0, len(sorted))
	for _, it := range sorted {
		hits = append(hits, Hit{
			ID:       h.nodes[it.Node].id,
			Distance: it.Distance,
			Score:    distance.Score(h.opts.Metric, it.Distance),
		})
	}
	return slices.Clip(hits), nil
}
