package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/internal/keylock"
	"github.com/hupe1980/vecgraph/model"
	"github.com/hupe1980/vecgraph/vectorindex"
)

// DefaultLockTimeout bounds the wait for a per-key lock.
const DefaultLockTimeout = 5 * time.Second

// Graph is the part of the graph store the manager writes through.
type Graph interface {
	UpsertEntity(ctx context.Context, in model.EntityInput, pending bool) (*model.Entity, bool, error)
	UpsertRelation(ctx context.Context, in model.RelationInput) (*model.Relation, bool, error)
	UpsertChunk(ctx context.Context, in model.ChunkInput, pending bool) (*model.Chunk, bool, error)
	Entity(id uint64) (*model.Entity, error)
	ChunkByRow(row uint64) (*model.Chunk, error)
	Pending() []graph.PendingRecord
	ClearPending(ctx context.Context, kind model.Collection, id, version uint64) (bool, error)
	Prune(ctx context.Context) (graph.PruneResult, error)
}

// Index is the part of a vector collection the manager writes through.
type Index interface {
	Upsert(ctx context.Context, id, version uint64, vec []float32) error
	Delete(ctx context.Context, id uint64) (bool, error)
	Version(ctx context.Context, id uint64) (uint64, bool, error)
	Rebuild(ctx context.Context) (vectorindex.ReconcileReport, error)
}

var (
	_ Graph = (*graph.Store)(nil)
	_ Index = (*vectorindex.Collection)(nil)
)

// Config configures a Manager.
type Config struct {
	// LockTimeout bounds per-key lock waits. Defaults to DefaultLockTimeout.
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Manager coordinates dual writes for one workspace.
type Manager struct {
	graph    Graph
	entities Index
	chunks   Index
	locks    *keylock.Map
	logger   *slog.Logger
}

// New creates a Manager.
func New(g Graph, entities, chunks Index, cfg Config) *Manager {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		graph:    g,
		entities: entities,
		chunks:   chunks,
		locks:    keylock.New(cfg.LockTimeout),
		logger:   logger,
	}
}

func entityLockKey(key string) string { return "e:" + key }

func chunkLockKey(id string) string { return "c:" + id }

func relationLockKey(k model.RelationKey) string { return "r:" + k.String() }

// UpsertEntity writes the entity to the graph and its embedding to the
// entity collection. If the vector write fails the error is returned and
// the record stays pending until Recover completes it.
func (m *Manager) UpsertEntity(ctx context.Context, in model.EntityInput) (*model.Entity, bool, error) {
	release, err := m.locks.Lock(ctx, entityLockKey(in.Key()))
	if err != nil {
		return nil, false, err
	}
	defer release()

	e, created, err := m.graph.UpsertEntity(ctx, in, true)
	if err != nil {
		return nil, false, err
	}

	if err := m.finish(ctx, model.CollectionEntities, m.entities, e.ID, e.Version, e.Embedding); err != nil {
		return e, created, err
	}
	e.Pending = false
	return e, created, nil
}

// UpsertChunk writes the chunk to the graph and its embedding to the chunk
// collection. An empty chunk id is replaced by a random UUID first so the
// chunk can be locked.
func (m *Manager) UpsertChunk(ctx context.Context, in model.ChunkInput) (*model.Chunk, bool, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	release, err := m.locks.Lock(ctx, chunkLockKey(in.ID))
	if err != nil {
		return nil, false, err
	}
	defer release()

	c, created, err := m.graph.UpsertChunk(ctx, in, true)
	if err != nil {
		return nil, false, err
	}

	if err := m.finish(ctx, model.CollectionChunks, m.chunks, c.Row, c.Version, c.Embedding); err != nil {
		return c, created, err
	}
	c.Pending = false
	return c, created, nil
}

// UpsertRelation writes a relation. Relations have no vectors; the lock only
// serializes merges of the same identity key.
func (m *Manager) UpsertRelation(ctx context.Context, in model.RelationInput) (*model.Relation, bool, error) {
	release, err := m.locks.Lock(ctx, relationLockKey(in.Key()))
	if err != nil {
		return nil, false, err
	}
	defer release()

	return m.graph.UpsertRelation(ctx, in)
}

// finish runs the vector write and clears the pending flag. Once the graph
// record is committed the remaining steps ignore caller cancellation, so a
// caller giving up does not strand a pending record.
func (m *Manager) finish(ctx context.Context, kind model.Collection, idx Index, id, version uint64, vec []float32) error {
	ctx = context.WithoutCancel(ctx)

	if err := m.upsertVector(ctx, kind, idx, id, version, vec); err != nil {
		m.logger.Warn("vector write failed, record left pending",
			"collection", kind.String(), "id", id, "version", version, "error", err)
		return fmt.Errorf("index %s %d: %w", kind, id, err)
	}
	if _, err := m.graph.ClearPending(ctx, kind, id, version); err != nil {
		return fmt.Errorf("clear pending %s %d: %w", kind, id, err)
	}
	return nil
}

// upsertVector writes to the index and heals a corrupt snapshot once.
func (m *Manager) upsertVector(ctx context.Context, kind model.Collection, idx Index, id, version uint64, vec []float32) error {
	err := idx.Upsert(ctx, id, version, vec)
	if err == nil || !errs.IsIndexCorruption(err) {
		return err
	}

	m.logger.Warn("index corruption detected, rebuilding", "collection", kind.String(), "error", err)
	if _, rerr := idx.Rebuild(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return idx.Upsert(ctx, id, version, vec)
}

// RecoveryReport summarizes a Recover run.
type RecoveryReport struct {
	// Completed records were already indexed at their version.
	Completed int
	// Reindexed records had their stored embedding written again.
	Reindexed int
	// Skipped records were finished by a concurrent writer.
	Skipped int
	Failed  int
}

// Recover completes every pending entity and chunk. Records that cannot be
// completed stay pending and are counted as failed; the first such error is
// returned alongside the report.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var (
		report   RecoveryReport
		firstErr error
	)

	for _, rec := range m.graph.Pending() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := m.recoverOne(ctx, rec)
		switch {
		case err != nil:
			report.Failed++
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Error("recovery failed", "collection", rec.Kind.String(), "id", rec.ID, "error", err)
		case outcome == outcomeCompleted:
			report.Completed++
		case outcome == outcomeReindexed:
			report.Reindexed++
		default:
			report.Skipped++
		}
	}
	return report, firstErr
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeReindexed
)

func (m *Manager) recoverOne(ctx context.Context, rec graph.PendingRecord) (outcome, error) {
	var (
		lockKey string
		idx     Index
	)
	switch rec.Kind {
	case model.CollectionEntities:
		lockKey, idx = entityLockKey(rec.Key), m.entities
	case model.CollectionChunks:
		lockKey, idx = chunkLockKey(rec.Key), m.chunks
	default:
		return outcomeSkipped, errs.Invalid("collection", "unknown collection %v", rec.Kind)
	}

	release, err := m.locks.Lock(ctx, lockKey)
	if err != nil {
		return outcomeSkipped, err
	}
	defer release()

	// Re-read under the lock; a writer may have finished the record meanwhile.
	version, vec, pending, err := m.current(rec)
	if err != nil {
		return outcomeSkipped, err
	}
	if !pending {
		return outcomeSkipped, nil
	}

	result := outcomeCompleted
	indexed, ok, err := idx.Version(ctx, rec.ID)
	if err != nil && !errs.IsIndexCorruption(err) {
		return outcomeSkipped, err
	}
	if err != nil || !ok || indexed != version {
		if err := m.upsertVector(ctx, rec.Kind, idx, rec.ID, version, vec); err != nil {
			return outcomeSkipped, err
		}
		result = outcomeReindexed
	}

	if _, err := m.graph.ClearPending(ctx, rec.Kind, rec.ID, version); err != nil {
		return outcomeSkipped, err
	}
	return result, nil
}

func (m *Manager) current(rec graph.PendingRecord) (uint64, []float32, bool, error) {
	if rec.Kind == model.CollectionEntities {
		e, err := m.graph.Entity(rec.ID)
		if err != nil {
			return 0, nil, false, err
		}
		return e.Version, e.Embedding, e.Pending, nil
	}
	c, err := m.graph.ChunkByRow(rec.ID)
	if err != nil {
		return 0, nil, false, err
	}
	return c.Version, c.Embedding, c.Pending, nil
}

// Prune removes every graph record and tombstones the matching vectors.
func (m *Manager) Prune(ctx context.Context) (graph.PruneResult, error) {
	res, err := m.graph.Prune(ctx)
	if err != nil {
		return res, err
	}

	ctx = context.WithoutCancel(ctx)
	for _, id := range res.Entities {
		if _, err := m.entities.Delete(ctx, id); err != nil {
			return res, fmt.Errorf("tombstone entity %d: %w", id, err)
		}
	}
	for _, row := range res.ChunkRows {
		if _, err := m.chunks.Delete(ctx, row); err != nil {
			return res, fmt.Errorf("tombstone chunk %d: %w", row, err)
		}
	}
	return res, nil
}
