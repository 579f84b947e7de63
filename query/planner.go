package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/model"
	"github.com/hupe1980/vecgraph/vectorindex"
)

const (
	DefaultOversample    = 4
	DefaultMaxRetries    = 3
	DefaultAlpha         = 0.5
	DefaultMinSimilarity = 0.8
	DefaultTimeout       = 5 * time.Second

	// MaxTopK bounds a single request.
	MaxTopK = 10000
)

// Graph is the read side of the graph store.
type Graph interface {
	Entity(id uint64) (*model.Entity, error)
	LookupName(name string, minSimilarity float64) []graph.NameMatch
	Reachable(ctx context.Context, id uint64, opts graph.TraverseOptions) (map[uint64]int, bool, error)
}

// Index is the entity vector index.
type Index interface {
	Search(ctx context.Context, q []float32, k, ef int) ([]hnsw.Hit, bool, error)
	Rebuild(ctx context.Context) (vectorindex.ReconcileReport, error)
}

var (
	_ Graph = (*graph.Store)(nil)
	_ Index = (*vectorindex.Collection)(nil)
)

// Config tunes the planner. Zero values select the defaults above.
type Config struct {
	// Dimension is the expected query vector length. Zero skips the check
	// and leaves it to the index.
	Dimension     int
	Oversample    int
	MaxRetries    int
	Alpha         float64
	MinSimilarity float64
	Timeout       time.Duration
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Oversample <= 0 {
		c.Oversample = DefaultOversample
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.MinSimilarity <= 0 || c.MinSimilarity > 1 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Planner executes queries against one workspace.
type Planner struct {
	graph Graph
	index Index
	cfg   Config
}

// New returns a planner over g and the entity index idx.
func New(g Graph, idx Index, cfg Config) *Planner {
	cfg.setDefaults()
	return &Planner{graph: g, index: idx, cfg: cfg}
}

// plan is a validated query.
type plan struct {
	mode       Mode
	vector     []float32
	topK       int
	ef         int
	constraint *Constraint
	traverse   graph.TraverseOptions
	keywords   []string
	alpha      float64
	minSim     float64
}

// Resolve validates q and reports the mode it would run in.
func (p *Planner) Resolve(q Query) (Mode, error) {
	pl, err := p.parse(q)
	if err != nil {
		return 0, err
	}
	return pl.mode, nil
}

func (p *Planner) parse(q Query) (*plan, error) {
	switch {
	case q.TopK <= 0:
		return nil, errs.Invalid("top_k", "must be positive, got %d", q.TopK)
	case q.TopK > MaxTopK:
		return nil, &errs.LimitExceededError{Limit: "top_k", Value: q.TopK, Max: MaxTopK}
	case q.EFSearch < 0:
		return nil, errs.Invalid("ef_search", "must not be negative, got %d", q.EFSearch)
	case q.Timeout < 0:
		return nil, errs.Invalid("timeout", "must not be negative, got %s", q.Timeout)
	}

	pl := &plan{
		mode:   q.Mode,
		topK:   q.TopK,
		ef:     q.EFSearch,
		alpha:  p.cfg.Alpha,
		minSim: p.cfg.MinSimilarity,
	}

	if len(q.Vector) > 0 {
		if p.cfg.Dimension > 0 && len(q.Vector) != p.cfg.Dimension {
			return nil, errs.DimensionMismatch("vector", p.cfg.Dimension, len(q.Vector))
		}
		if !distance.Finite(q.Vector) {
			return nil, errs.Invalid("vector", "contains NaN or Inf")
		}
		pl.vector = q.Vector
	}

	if !q.Constraint.empty() {
		opts, err := q.Constraint.traverseOptions().Normalize()
		if err != nil {
			return nil, err
		}
		pl.constraint = q.Constraint
		pl.traverse = opts
	}

	if dl := q.DualLevel; dl != nil {
		for _, kw := range dl.Keywords {
			if model.NormalizeName(kw) != "" {
				pl.keywords = append(pl.keywords, kw)
			}
		}
		if dl.Alpha != 0 {
			if math.IsNaN(dl.Alpha) || dl.Alpha < 0 || dl.Alpha > 1 {
				return nil, errs.Invalid("alpha", "must be within [0, 1], got %v", dl.Alpha)
			}
			pl.alpha = dl.Alpha
		}
		if dl.MinSimilarity != 0 {
			if math.IsNaN(dl.MinSimilarity) || dl.MinSimilarity < 0 || dl.MinSimilarity > 1 {
				return nil, errs.Invalid("min_similarity", "must be within [0, 1], got %v", dl.MinSimilarity)
			}
			pl.minSim = dl.MinSimilarity
		}
	}

	if pl.mode == ModeAuto {
		switch {
		case len(pl.keywords) > 0:
			pl.mode = ModeDualLevel
		case pl.vector != nil && q.Constraint != nil:
			pl.mode = ModeHybrid
		case pl.vector != nil:
			pl.mode = ModeVectorOnly
		case q.Constraint != nil:
			pl.mode = ModeGraphOnly
		default:
			return nil, errs.Invalid("query", "nothing to search: set a vector, a constraint or keywords")
		}
	}

	switch pl.mode {
	case ModeVectorOnly:
		if pl.vector == nil {
			return nil, errs.Invalid("vector", "required in %s mode", pl.mode)
		}
	case ModeGraphOnly:
		if pl.constraint == nil {
			return nil, errs.Invalid("constraint", "graph-only queries need an anchor")
		}
	case ModeHybrid:
		if pl.vector == nil {
			return nil, errs.Invalid("vector", "required in %s mode", pl.mode)
		}
		if pl.constraint == nil {
			return nil, errs.Invalid("constraint", "hybrid queries need an anchor")
		}
	case ModeDualLevel:
		if len(pl.keywords) == 0 && pl.vector == nil {
			return nil, errs.Invalid("dual_level", "needs keywords or a vector")
		}
	default:
		return nil, errs.Invalid("mode", "unknown mode %d", pl.mode)
	}
	return pl, nil
}

// Execute runs q. The query deadline truncates the response instead of
// failing it; caller cancellation fails it. A corrupt entity index is
// rebuilt from the graph and the query retried once.
func (p *Planner) Execute(ctx context.Context, q Query) (*Response, error) {
	pl, err := p.parse(q)
	if err != nil {
		return nil, err
	}

	timeout := q.Timeout
	if timeout == 0 {
		timeout = p.cfg.Timeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.run(qctx, pl)
	if errs.IsIndexCorruption(err) {
		p.cfg.Logger.Warn("entity index corrupt, rebuilding", "error", err)
		if _, rerr := p.index.Rebuild(context.WithoutCancel(ctx)); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("rebuild: %w", rerr))
		}
		resp, err = p.run(qctx, pl)
	}
	if cerr := ctx.Err(); errors.Is(cerr, context.Canceled) {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}

	p.cfg.Logger.Debug("query executed",
		"mode", resp.Mode.String(),
		"results", len(resp.Results),
		"truncated", resp.Truncated,
		"retries", resp.Retries,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

func (p *Planner) run(ctx context.Context, pl *plan) (*Response, error) {
	switch pl.mode {
	case ModeVectorOnly:
		return p.vectorOnly(ctx, pl)
	case ModeGraphOnly:
		return p.graphOnly(ctx, pl)
	case ModeHybrid:
		return p.hybrid(ctx, pl)
	default:
		return p.dualLevel(ctx, pl)
	}
}

func (p *Planner) vectorOnly(ctx context.Context, pl *plan) (*Response, error) {
	hits, truncated, err := p.search(ctx, pl, pl.topK)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if e, ok := p.entity(h.ID); ok {
			results = append(results, newResult(e, float64(h.Score), MatchedVector, 0))
		}
	}
	rank(results)
	return &Response{Mode: ModeVectorOnly, Results: results, Truncated: truncated}, nil
}

func (p *Planner) graphOnly(ctx context.Context, pl *plan) (*Response, error) {
	reach, truncated, err := p.reachable(ctx, pl)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(reach))
	for id, depth := range reach {
		if e, ok := p.entity(id); ok {
			results = append(results, newResult(e, 1/float64(depth), MatchedGraph, depth))
		}
	}
	rank(results)
	return &Response{Mode: ModeGraphOnly, Results: cut(results, pl.topK), Truncated: truncated}, nil
}

// hybrid searches topK*oversample candidates and keeps those satisfying the
// constraint. While too few survive, the oversample factor doubles, up to
// MaxRetries times. Short results are returned as they are.
func (p *Planner) hybrid(ctx context.Context, pl *plan) (*Response, error) {
	reach, traversalTruncated, err := p.reachable(ctx, pl)
	if err != nil {
		return nil, err
	}

	resp := &Response{Mode: ModeHybrid, Oversample: p.cfg.Oversample, Truncated: traversalTruncated}
	if len(reach) == 0 {
		// A resolved anchor without neighbours is a short result; an
		// unknown anchor is simply empty.
		anchors, err := p.anchors(pl.constraint)
		if err != nil {
			return nil, err
		}
		resp.Results = []Result{}
		resp.Truncated = resp.Truncated || len(anchors) > 0
		return resp, nil
	}

	var kept []Result
	for {
		k := pl.topK * resp.Oversample
		hits, truncated, err := p.search(ctx, pl, k)
		if err != nil {
			return nil, err
		}

		kept = kept[:0]
		for _, h := range hits {
			depth, ok := reach[h.ID]
			if !ok {
				continue
			}
			if e, ok := p.entity(h.ID); ok {
				kept = append(kept, newResult(e, float64(h.Score), MatchedBoth, depth))
			}
		}

		if truncated {
			resp.Truncated = true
			break
		}
		if len(kept) >= pl.topK || len(hits) < k || resp.Retries >= p.cfg.MaxRetries {
			break
		}
		resp.Oversample *= 2
		resp.Retries++
	}

	rank(kept)
	resp.Results = cut(kept, pl.topK)
	if len(resp.Results) < pl.topK {
		resp.Truncated = true
	}
	return resp, nil
}

type candidate struct {
	entity  *model.Entity
	low     float64
	high    float64
	viaLow  bool
	viaHigh bool
}

// dualLevel merges name matches (low level) with vector matches (high
// level) as max(low, alpha*high).
func (p *Planner) dualLevel(ctx context.Context, pl *plan) (*Response, error) {
	resp := &Response{Mode: ModeDualLevel}
	cands := make(map[uint64]*candidate)
	get := func(e *model.Entity) *candidate {
		c, ok := cands[e.ID]
		if !ok {
			c = &candidate{entity: e}
			cands[e.ID] = c
		}
		return c
	}

	for _, kw := range pl.keywords {
		if ctx.Err() != nil {
			resp.Truncated = true
			break
		}
		for _, m := range p.graph.LookupName(kw, pl.minSim) {
			c := get(m.Entity)
			c.low = max(c.low, m.Similarity)
			c.viaLow = true
		}
	}

	if pl.vector != nil {
		hits, truncated, err := p.search(ctx, pl, pl.topK*p.cfg.Oversample)
		if err != nil {
			return nil, err
		}
		resp.Truncated = resp.Truncated || truncated
		for _, h := range hits {
			e, ok := p.entity(h.ID)
			if !ok {
				continue
			}
			c := get(e)
			if !c.viaHigh || float64(h.Score) > c.high {
				c.high = float64(h.Score)
			}
			c.viaHigh = true
		}
	}

	var reach map[uint64]int
	if pl.constraint != nil {
		r, truncated, err := p.reachable(ctx, pl)
		if err != nil {
			return nil, err
		}
		reach = r
		resp.Truncated = resp.Truncated || truncated
	}

	results := make([]Result, 0, len(cands))
	for id, c := range cands {
		depth := 0
		if reach != nil {
			d, ok := reach[id]
			if !ok {
				continue
			}
			depth = d
		}

		var r Result
		switch {
		case c.viaLow && c.viaHigh:
			r = newResult(c.entity, max(c.low, pl.alpha*c.high), MatchedBoth, depth)
		case c.viaLow:
			r = newResult(c.entity, c.low, MatchedGraph, depth)
		default:
			r = newResult(c.entity, pl.alpha*c.high, MatchedVector, depth)
		}
		results = append(results, r)
	}
	rank(results)
	resp.Results = cut(results, pl.topK)
	return resp, nil
}

// search queries the entity index. A deadline hit while the index loads is
// reported as truncation.
func (p *Planner) search(ctx context.Context, pl *plan, k int) ([]hnsw.Hit, bool, error) {
	ef := 0
	if pl.ef > 0 {
		ef = max(pl.ef, k)
	}
	hits, truncated, err := p.index.Search(ctx, pl.vector, k, ef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, true, nil
		}
		return nil, false, err
	}
	return hits, truncated, nil
}

// reachable returns the entities satisfying the constraint with their hop
// count. Anchors are excluded. An unknown anchor satisfies nothing.
func (p *Planner) reachable(ctx context.Context, pl *plan) (map[uint64]int, bool, error) {
	anchors, err := p.anchors(pl.constraint)
	if err != nil {
		return nil, false, err
	}

	out := make(map[uint64]int)
	truncated := false
	for _, a := range anchors {
		r, t, err := p.graph.Reachable(ctx, a, pl.traverse)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		truncated = truncated || t
		for id, depth := range r {
			if cur, ok := out[id]; !ok || depth < cur {
				out[id] = depth
			}
		}
	}
	for _, a := range anchors {
		delete(out, a)
	}
	return out, truncated, nil
}

func (p *Planner) anchors(c *Constraint) ([]uint64, error) {
	if c.AnchorID != 0 {
		if _, err := p.graph.Entity(c.AnchorID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []uint64{c.AnchorID}, nil
	}

	matches := p.graph.LookupName(c.AnchorName, 1)
	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Entity.ID)
	}
	return ids, nil
}

// entity skips index hits whose graph record is gone.
func (p *Planner) entity(id uint64) (*model.Entity, bool) {
	e, err := p.graph.Entity(id)
	if err != nil {
		return nil, false
	}
	return e, true
}

func newResult(e *model.Entity, score float64, via MatchedVia, depth int) Result {
	return Result{
		ID:         e.ID,
		Name:       e.Name,
		Type:       e.Type,
		Score:      score,
		MatchedVia: via,
		Depth:      depth,
		UpdatedAt:  e.UpdatedAt,
	}
}

// rank orders by score, then most recently updated, then id.
func rank(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func cut(results []Result, k int) []Result {
	if len(results) > k {
		return results[:k]
	}
	return results
}
