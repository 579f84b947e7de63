package vecgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/consistency"
	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/manifest"
	"github.com/hupe1980/vecgraph/model"
	"github.com/hupe1980/vecgraph/query"
	"github.com/hupe1980/vecgraph/vectorindex"
)

const graphDir = "graph"

// Workspace is an isolated namespace with its own graph store and vector
// collections. Reads and upserts run concurrently; Compact, Prune and
// Restore hold the workspace exclusively.
type Workspace struct {
	name      string
	dir       string // empty in memory
	dimension int
	metric    distance.Metric

	db      *DB
	logger  *Logger
	codec   codec.Codec
	timeout time.Duration

	graph     *graph.Store
	entities  *vectorindex.Collection
	chunks    *vectorindex.Collection
	manager   *consistency.Manager
	planner   *query.Planner
	manifests *manifest.Store
	manifest  *manifest.Manifest

	mu     sync.RWMutex
	closed bool
}

func openWorkspace(ctx context.Context, db *DB, name string, cfg WorkspaceConfig) (*Workspace, error) {
	o := db.opts
	w := &Workspace{
		name:      name,
		dimension: cfg.Dimension,
		metric:    cfg.Metric,
		db:        db,
		logger:    db.logger.WithWorkspace(name),
		codec:     o.codec,
		timeout:   o.query.Timeout,
	}
	if w.timeout <= 0 {
		w.timeout = query.DefaultTimeout
	}

	if o.dir != "" {
		w.dir = filepath.Join(o.dir, workspacesDir, name)
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace directory: %w", err)
		}
		if err := w.loadManifest(cfg); err != nil {
			return nil, err
		}
	}

	var graphPath string
	if w.dir != "" {
		graphPath = filepath.Join(w.dir, graphDir)
	}
	store, err := graph.Open(func(g *graph.Options) {
		g.Dir = graphPath
		g.Dimension = cfg.Dimension
		g.Metric = cfg.Metric
		g.EmbeddingMerge = o.embeddingMerge
		g.WeightMerge = o.weightMerge
		g.Codec = w.codec
		g.SyncWrites = o.syncWrites
		g.MaxVisited = o.maxVisited
		g.Logger = w.logger.Logger
	})
	if err != nil {
		return nil, err
	}
	w.graph = store

	newCollection := func(kind model.Collection) (*vectorindex.Collection, error) {
		return vectorindex.New(vectorindex.Config{
			Kind:           kind,
			Dimension:      cfg.Dimension,
			Metric:         cfg.Metric,
			M:              o.index.M,
			EFConstruction: o.index.EFConstruction,
			EFSearch:       o.index.EFSearch,
			RandomSeed:     o.index.Seed,
			Dir:            w.dir,
			Compression:    o.compression,
			Resources:      db.resources,
			Logger:         w.logger.Logger,
		}, store)
	}
	if w.entities, err = newCollection(model.CollectionEntities); err != nil {
		_ = store.Close()
		return nil, err
	}
	if w.chunks, err = newCollection(model.CollectionChunks); err != nil {
		_ = store.Close()
		return nil, err
	}

	w.manager = consistency.New(store, w.entities, w.chunks, consistency.Config{
		LockTimeout: o.lockTimeout,
		Logger:      w.logger.Logger,
	})
	w.planner = query.New(store, w.entities, o.plannerConfig(cfg.Dimension, w.logger.Logger))

	// Records that fail recovery stay pending for the next open.
	report, err := w.manager.Recover(ctx)
	w.logger.LogRecovery(ctx, report, err)
	if err := ctx.Err(); err != nil {
		_ = store.Close()
		return nil, err
	}

	w.logger.Info("workspace opened",
		"dimension", cfg.Dimension,
		"metric", cfg.Metric.String(),
		"persistent", w.dir != "",
	)
	return w, nil
}

// loadManifest validates an existing manifest against cfg or writes the
// first one. A stored codec wins over the configured one.
func (w *Workspace) loadManifest(cfg WorkspaceConfig) error {
	o := w.db.opts
	w.manifests = manifest.NewStore(w.dir, o.codec)

	m, err := w.manifests.Load()
	if errors.Is(err, errs.ErrNotFound) {
		m = &manifest.Manifest{
			Workspace:      w.name,
			Dimension:      cfg.Dimension,
			Metric:         cfg.Metric.String(),
			Codec:          o.codec.Name(),
			EmbeddingMerge: o.embeddingMerge.String(),
			WeightMerge:    o.weightMerge.String(),
		}
		if err := w.manifests.Save(m); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		w.manifest = m
		return nil
	}
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if err := m.Compatible(cfg.Dimension, cfg.Metric.String()); err != nil {
		return err
	}
	if c, ok := codec.ByName(m.Codec); ok {
		w.codec = c
	} else {
		return fmt.Errorf("%w: workspace %q uses unknown codec %q", errs.ErrIncompatibleFormat, w.name, m.Codec)
	}
	w.manifest = m
	return nil
}

// Name returns the workspace name.
func (w *Workspace) Name() string { return w.name }

// Dimension returns the embedding dimension.
func (w *Workspace) Dimension() int { return w.dimension }

// Metric returns the distance metric.
func (w *Workspace) Metric() distance.Metric { return w.metric }

func (w *Workspace) compatible(cfg WorkspaceConfig) error {
	if w.dimension != cfg.Dimension {
		return errs.Invalid("dimension", "workspace %q has dimension %d, got %d", w.name, w.dimension, cfg.Dimension)
	}
	if w.metric != cfg.Metric {
		return errs.Invalid("metric", "workspace %q uses %s, got %s", w.name, w.metric, cfg.Metric)
	}
	return nil
}

// rlock takes the shared workspace lock. The caller must RUnlock on success.
func (w *Workspace) rlock() error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return fmt.Errorf("workspace %q: %w", w.name, ErrClosed)
	}
	return nil
}

// rlockContext is rlock bounded by ctx. Compact and Prune hold the lock
// exclusively for long stretches, so the reader polls instead of queueing.
func (w *Workspace) rlockContext(ctx context.Context) error {
	for wait := time.Millisecond; !w.mu.TryRLock(); wait = min(2*wait, 20*time.Millisecond) {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if w.closed {
		w.mu.RUnlock()
		return fmt.Errorf("workspace %q: %w", w.name, ErrClosed)
	}
	return nil
}

// lock takes the exclusive workspace lock. The caller must Unlock on success.
func (w *Workspace) lock() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("workspace %q: %w", w.name, ErrClosed)
	}
	return nil
}

// UpsertEntity inserts the entity or merges it into the entity with the
// same normalized name and type. created reports whether a new entity was
// inserted.
func (w *Workspace) UpsertEntity(ctx context.Context, in model.EntityInput) (*model.Entity, bool, error) {
	if err := w.rlock(); err != nil {
		return nil, false, err
	}
	defer w.mu.RUnlock()

	start := time.Now()
	e, created, err := w.manager.UpsertEntity(ctx, in)
	w.db.metrics.RecordUpsert("entity", created, time.Since(start), err)
	w.logger.LogUpsert(ctx, "entity", in.Key(), created, err)
	return e, created, err
}

// UpsertRelation inserts the relation between two existing entities or
// merges it into the relation with the same endpoints and label.
func (w *Workspace) UpsertRelation(ctx context.Context, in model.RelationInput) (*model.Relation, bool, error) {
	if err := w.rlock(); err != nil {
		return nil, false, err
	}
	defer w.mu.RUnlock()

	start := time.Now()
	r, created, err := w.manager.UpsertRelation(ctx, in)
	w.db.metrics.RecordUpsert("relation", created, time.Since(start), err)
	w.logger.LogUpsert(ctx, "relation", in.Key().String(), created, err)
	return r, created, err
}

// UpsertChunk inserts or replaces a chunk. An empty id is generated.
func (w *Workspace) UpsertChunk(ctx context.Context, in model.ChunkInput) (*model.Chunk, bool, error) {
	if err := w.rlock(); err != nil {
		return nil, false, err
	}
	defer w.mu.RUnlock()

	start := time.Now()
	c, created, err := w.manager.UpsertChunk(ctx, in)
	w.db.metrics.RecordUpsert("chunk", created, time.Since(start), err)
	key := in.ID
	if c != nil {
		key = c.ID
	}
	w.logger.LogUpsert(ctx, "chunk", key, created, err)
	return c, created, err
}

// Query runs q on a query worker slot. Waiting for the workspace and for
// the slot counts against the query deadline; a deadline that passes while
// waiting returns an empty response with Truncated set.
func (w *Workspace) Query(ctx context.Context, q query.Query) (*query.Response, error) {
	start := time.Now()
	resp, err := w.query(ctx, q)

	mode, results, truncated := q.Mode, 0, false
	if resp != nil {
		mode, results, truncated = resp.Mode, len(resp.Results), resp.Truncated
	}
	w.db.metrics.RecordQuery(mode.String(), results, truncated, time.Since(start), err)
	w.logger.LogQuery(ctx, mode, q.TopK, resp, err)
	return resp, err
}

func (w *Workspace) query(ctx context.Context, q query.Query) (*query.Response, error) {
	mode, err := w.planner.Resolve(q)
	if err != nil {
		return nil, err
	}
	timeout := q.Timeout
	if timeout == 0 {
		timeout = w.timeout
	}
	deadline := time.Now().Add(timeout)

	done, ok, err := w.admit(ctx, deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &query.Response{Mode: mode, Results: []query.Result{}, Truncated: true}, nil
	}
	defer done()

	q.Timeout = max(time.Until(deadline), time.Millisecond)
	return w.planner.Execute(ctx, q)
}

// admit takes the shared workspace lock and a query worker, both bounded by
// deadline. It reports false when the deadline passed first; caller
// cancellation and a closed workspace are errors. done releases both.
func (w *Workspace) admit(ctx context.Context, deadline time.Time) (done func(), ok bool, err error) {
	actx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	expired := func(err error) (func(), bool, error) {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			w.logger.Debug("query deadline passed before a worker was free")
			return nil, false, nil
		}
		return nil, false, err
	}

	if err := w.rlockContext(actx); err != nil {
		return expired(err)
	}
	release, err := w.db.resources.QuerySlot(actx)
	if err != nil {
		w.mu.RUnlock()
		return expired(err)
	}
	return func() {
		release()
		w.mu.RUnlock()
	}, true, nil
}

// ChunkResult is a chunk returned by SearchChunks.
type ChunkResult struct {
	Chunk *model.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

// ChunkResponse is the result of SearchChunks.
type ChunkResponse struct {
	Results   []ChunkResult `json:"results"`
	Truncated bool          `json:"truncated"`
}

// SearchChunks returns the topK chunks nearest to vec. An expired
// deadline returns the chunks found so far with Truncated set.
func (w *Workspace) SearchChunks(ctx context.Context, vec []float32, topK int) (*ChunkResponse, error) {
	if topK <= 0 {
		return nil, errs.Invalid("top_k", "must be positive, got %d", topK)
	}
	if topK > query.MaxTopK {
		return nil, &errs.LimitExceededError{Limit: "top_k", Value: topK, Max: query.MaxTopK}
	}
	if len(vec) != w.dimension {
		return nil, errs.DimensionMismatch("vector", w.dimension, len(vec))
	}
	if !distance.Finite(vec) {
		return nil, errs.Invalid("vector", "contains NaN or Inf")
	}

	deadline := time.Now().Add(w.timeout)
	done, ok, err := w.admit(ctx, deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ChunkResponse{Results: []ChunkResult{}, Truncated: true}, nil
	}
	defer done()

	sctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	hits, truncated, err := w.searchChunks(sctx, vec, topK)
	if errs.IsIndexCorruption(err) {
		w.logger.Warn("chunk index corrupt, rebuilding", "error", err)
		if _, rerr := w.chunks.Rebuild(context.WithoutCancel(ctx)); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		hits, truncated, err = w.searchChunks(sctx, vec, topK)
	}
	if err != nil {
		return nil, err
	}

	resp := &ChunkResponse{Results: make([]ChunkResult, 0, len(hits)), Truncated: truncated}
	for _, h := range hits {
		c, err := w.graph.ChunkByRow(h.ID)
		if err != nil {
			continue
		}
		resp.Results = append(resp.Results, ChunkResult{Chunk: c, Score: float64(h.Score)})
	}
	return resp, nil
}

func (w *Workspace) searchChunks(ctx context.Context, vec []float32, topK int) ([]hnsw.Hit, bool, error) {
	hits, truncated, err := w.chunks.Search(ctx, vec, topK, 0)
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, true, nil
	}
	return hits, truncated, err
}

// Neighbors returns the entities reachable from id within opts, ordered by
// depth and then id. truncated reports an expired deadline or an exhausted
// visit budget.
func (w *Workspace) Neighbors(ctx context.Context, id uint64, opts graph.TraverseOptions) ([]graph.Neighbor, bool, error) {
	if err := w.rlock(); err != nil {
		return nil, false, err
	}
	defer w.mu.RUnlock()

	nbs, truncated, err := w.graph.Traverse(ctx, id, opts)
	if err != nil {
		return nil, false, err
	}
	sort.SliceStable(nbs, func(i, j int) bool {
		if nbs[i].Depth != nbs[j].Depth {
			return nbs[i].Depth < nbs[j].Depth
		}
		return nbs[i].Entity.ID < nbs[j].Entity.ID
	})
	return nbs, truncated, nil
}

// Relations returns the relations touching entity id in the given direction.
func (w *Workspace) Relations(id uint64, dir graph.Direction) ([]*model.Relation, error) {
	if err := w.rlock(); err != nil {
		return nil, err
	}
	defer w.mu.RUnlock()
	return w.graph.Relations(id, dir)
}

// Entity returns the entity with id.
func (w *Workspace) Entity(id uint64) (*model.Entity, error) {
	if err := w.rlock(); err != nil {
		return nil, err
	}
	defer w.mu.RUnlock()
	return w.graph.Entity(id)
}

// EntityByKey returns the entity with the normalized name and type.
func (w *Workspace) EntityByKey(name string, t model.EntityType) (*model.Entity, error) {
	if err := w.rlock(); err != nil {
		return nil, err
	}
	defer w.mu.RUnlock()
	return w.graph.EntityByKey(name, t)
}

// Chunk returns the chunk with id.
func (w *Workspace) Chunk(id string) (*model.Chunk, error) {
	if err := w.rlock(); err != nil {
		return nil, err
	}
	defer w.mu.RUnlock()
	return w.graph.Chunk(id)
}

// Compact physically removes tombstoned vectors from both collections.
// It holds the workspace exclusively.
func (w *Workspace) Compact(ctx context.Context) (int, error) {
	if err := w.lock(); err != nil {
		return 0, err
	}
	defer w.mu.Unlock()
	return w.compact(ctx)
}

func (w *Workspace) compact(ctx context.Context) (int, error) {
	start := time.Now()
	removed := 0
	var err error
	for _, c := range []*vectorindex.Collection{w.entities, w.chunks} {
		var n int
		n, err = c.Compact(ctx)
		removed += n
		if err != nil {
			break
		}
	}
	elapsed := time.Since(start)
	w.db.metrics.RecordCompaction(removed, elapsed, err)
	w.logger.LogCompaction(ctx, removed, elapsed, err)
	return removed, err
}

// Snapshot writes changed collections to disk and refreshes the manifest.
// It is a no-op in memory.
func (w *Workspace) Snapshot(ctx context.Context) error {
	if err := w.rlock(); err != nil {
		return err
	}
	defer w.mu.RUnlock()
	return w.snapshot(ctx)
}

func (w *Workspace) snapshot(ctx context.Context) error {
	if w.dir == "" {
		return nil
	}
	err := errors.Join(w.entities.Save(ctx), w.chunks.Save(ctx))
	if err == nil {
		err = w.manifests.Save(w.manifest)
	}
	w.logger.LogSnapshot(ctx, w.name, err)
	return err
}

// WorkspaceStats describes a workspace.
type WorkspaceStats struct {
	Name      string
	Dimension int
	Metric    distance.Metric
	Graph     graph.Stats
	Entities  vectorindex.Stats
	Chunks    vectorindex.Stats
}

// Stats returns counters without loading unloaded collections.
func (w *Workspace) Stats() (WorkspaceStats, error) {
	if err := w.rlock(); err != nil {
		return WorkspaceStats{}, err
	}
	defer w.mu.RUnlock()

	return WorkspaceStats{
		Name:      w.name,
		Dimension: w.dimension,
		Metric:    w.metric,
		Graph:     w.graph.Stats(),
		Entities:  w.entities.Stats(),
		Chunks:    w.chunks.Stats(),
	}, nil
}

// Prune removes every entity, relation and chunk, tombstones and compacts
// their vectors, and tears the workspace down. Later calls on w return
// ErrClosed; DB.Workspace creates it afresh.
func (w *Workspace) Prune(ctx context.Context) (graph.PruneResult, error) {
	if err := w.lock(); err != nil {
		return graph.PruneResult{}, err
	}
	defer w.mu.Unlock()

	res, err := w.manager.Prune(ctx)
	if err == nil {
		_, err = w.compact(context.WithoutCancel(ctx))
	}
	w.logger.LogPrune(ctx, res, err)
	if err != nil {
		return res, err
	}

	w.closed = true
	w.db.unregister(w.name)

	err = errors.Join(w.graph.Close(), w.entities.Drop(), w.chunks.Drop())
	if w.dir != "" {
		err = errors.Join(err, os.RemoveAll(w.dir))
	}
	return res, err
}

// close saves the collections and closes the graph store.
func (w *Workspace) close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.snapshot(ctx)
	return errors.Join(err, w.graph.Close())
}
