package vectorindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/internal/resource"
	"github.com/hupe1980/vecgraph/model"
	"github.com/hupe1980/vecgraph/persistence"
)

// SnapshotExt is the file extension of collection snapshots.
const SnapshotExt = ".vgx"

// Source enumerates the vectors that belong in a collection.
// The graph store implements it.
type Source interface {
	ForEachVector(ctx context.Context, kind model.Collection, fn func(id, version uint64, vec []float32) error) error
}

// Config configures a Collection.
type Config struct {
	Kind      model.Collection
	Dimension int
	Metric    distance.Metric

	M              int
	EFConstruction int
	EFSearch       int
	RandomSeed     *int64

	// Dir holds the snapshot file. Empty keeps the collection in memory only.
	Dir         string
	Compression persistence.Compression

	Resources *resource.Controller
	Logger    *slog.Logger
}

// Stats describes a collection.
type Stats struct {
	Kind       model.Collection
	Loaded     bool
	Dirty      bool
	Live       int
	Tombstones int
	Nodes      int
}

// ReconcileReport counts the repairs made while loading.
type ReconcileReport struct {
	Inserted   int
	Tombstoned int
	// Skipped counts source vectors the index rejected as invalid.
	Skipped int
}

// Collection is a lazily loaded, snapshot-backed HNSW index.
type Collection struct {
	cfg    Config
	source Source
	logger *slog.Logger

	mu    sync.RWMutex
	index *hnsw.HNSW // nil until loaded

	dirty atomic.Bool
}

// New creates a collection. Nothing is loaded until first use.
func New(cfg Config, source Source) (*Collection, error) {
	if cfg.Dimension <= 0 {
		return nil, errs.Invalid("dimension", "must be positive, got %d", cfg.Dimension)
	}
	if !cfg.Metric.Valid() {
		return nil, errs.Invalid("metric", "unsupported metric %v", cfg.Metric)
	}
	if source == nil {
		return nil, errors.New("vectorindex: nil source")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Collection{
		cfg:    cfg,
		source: source,
		logger: logger.With("collection", cfg.Kind.String()),
	}, nil
}

// Kind returns the collection kind.
func (c *Collection) Kind() model.Collection { return c.cfg.Kind }

// Path returns the snapshot path, or "" for in-memory collections.
func (c *Collection) Path() string {
	if c.cfg.Dir == "" {
		return ""
	}
	return filepath.Join(c.cfg.Dir, c.cfg.Kind.String()+SnapshotExt)
}

func (c *Collection) newIndex() (*hnsw.HNSW, error) {
	return hnsw.New(func(o *hnsw.Options) {
		o.Dimension = c.cfg.Dimension
		o.Metric = c.cfg.Metric
		if c.cfg.M > 0 {
			o.M = c.cfg.M
		}
		if c.cfg.EFConstruction > 0 {
			o.EFConstruction = c.cfg.EFConstruction
		}
		if c.cfg.EFSearch > 0 {
			o.EFSearch = c.cfg.EFSearch
		}
		o.RandomSeed = c.cfg.RandomSeed
	})
}

// acquire returns the loaded index while holding the read lock.
// The returned release func must be called when done.
func (c *Collection) acquire(ctx context.Context) (*hnsw.HNSW, func(), error) {
	c.mu.RLock()
	if c.index != nil {
		return c.index, c.mu.RUnlock, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	if c.index == nil {
		idx, err := c.load(ctx)
		if err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
		c.index = idx
	}
	c.mu.Unlock()

	// Rebuild or Drop may run in between; retry until the index is stable.
	return c.acquire(ctx)
}

// load reads the snapshot and reconciles it. Callers hold the write lock.
func (c *Collection) load(ctx context.Context) (*hnsw.HNSW, error) {
	start := time.Now()

	idx, err := c.newIndex()
	if err != nil {
		return nil, err
	}

	path := c.Path()
	if path == "" {
		return c.build(ctx)
	}

	err = persistence.LoadFromFile(path, func(r io.Reader) error {
		header, raw, err := persistence.ReadSnapshot(r)
		if err != nil {
			return err
		}
		if header.Collection != uint8(c.cfg.Kind) || header.Metric != uint8(c.cfg.Metric) || int(header.Dimension) != c.cfg.Dimension {
			return fmt.Errorf("%w: snapshot holds %s/%s/%d", errs.ErrIncompatibleFormat,
				model.Collection(header.Collection), distance.Metric(header.Metric), header.Dimension)
		}
		return idx.ReadFrom(bytes.NewReader(raw))
	})

	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		c.logger.Debug("no snapshot, building from graph store", "path", path)
		return c.build(ctx)
	case errors.Is(err, errs.ErrIncompatibleFormat):
		c.logger.Warn("incompatible snapshot, rebuilding", "path", path, "error", err)
		return c.build(ctx)
	default:
		c.logger.Error("corrupt snapshot", "path", path, "error", err)
		return nil, &errs.IndexCorruptionError{Collection: c.cfg.Kind.String(), Path: path, Err: err}
	}

	report, err := c.reconcile(ctx, idx)
	if err != nil {
		return nil, err
	}
	if report.Inserted > 0 || report.Tombstoned > 0 {
		c.dirty.Store(true)
	}

	c.logger.Info("collection loaded",
		"live", idx.Len(),
		"reinserted", report.Inserted,
		"tombstoned", report.Tombstoned,
		"skipped", report.Skipped,
		"duration", time.Since(start),
	)
	return idx, nil
}

// build creates an index from the source alone.
func (c *Collection) build(ctx context.Context) (*hnsw.HNSW, error) {
	idx, err := c.newIndex()
	if err != nil {
		return nil, err
	}
	if _, err := c.reconcile(ctx, idx); err != nil {
		return nil, err
	}
	c.dirty.Store(c.cfg.Dir != "")
	return idx, nil
}

// reconcile brings idx in line with the source.
func (c *Collection) reconcile(ctx context.Context, idx *hnsw.HNSW) (ReconcileReport, error) {
	var report ReconcileReport
	seen := roaring64.New()

	err := c.source.ForEachVector(ctx, c.cfg.Kind, func(id, version uint64, vec []float32) error {
		if v, ok := idx.Version(id); ok && v == version {
			seen.Add(id)
			return nil
		}
		if err := idx.Insert(ctx, id, version, vec); err != nil {
			if !errors.Is(err, errs.ErrInvalid) {
				return fmt.Errorf("reconcile %s %d: %w", c.cfg.Kind, id, err)
			}
			// Left out of seen so a stale copy is tombstoned below.
			c.logger.Warn("skipping unindexable vector", "collection", c.cfg.Kind.String(), "id", id, "error", err)
			report.Skipped++
			return nil
		}
		seen.Add(id)
		report.Inserted++
		return nil
	})
	if err != nil {
		return report, err
	}

	for _, id := range idx.IDs() {
		if !seen.Contains(id) {
			idx.Delete(id)
			report.Tombstoned++
		}
	}
	return report, nil
}

// Upsert inserts or replaces the vector of id. Re-upserting the version
// already stored is a no-op.
func (c *Collection) Upsert(ctx context.Context, id, version uint64, vec []float32) error {
	idx, release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if v, ok := idx.Version(id); ok && v == version {
		return nil
	}
	if err := idx.Insert(ctx, id, version, vec); err != nil {
		return err
	}
	c.dirty.Store(true)
	return nil
}

// Delete tombstones id. It reports whether id was present.
func (c *Collection) Delete(ctx context.Context, id uint64) (bool, error) {
	idx, release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	ok := idx.Delete(id)
	if ok {
		c.dirty.Store(true)
	}
	return ok, nil
}

// Search returns up to k nearest vectors. See hnsw.HNSW.Search for the
// meaning of ef and truncated.
func (c *Collection) Search(ctx context.Context, q []float32, k, ef int) ([]hnsw.Hit, bool, error) {
	idx, release, err := c.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	return idx.Search(ctx, q, k, ef)
}

// Version returns the version indexed for id.
func (c *Collection) Version(ctx context.Context, id uint64) (uint64, bool, error) {
	idx, release, err := c.acquire(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()

	v, ok := idx.Version(id)
	return v, ok, nil
}

// Compact physically removes tombstoned vectors. It runs on a background
// worker slot.
func (c *Collection) Compact(ctx context.Context) (int, error) {
	idx, release, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	// The collection lock is always taken before a worker slot.
	slot, err := c.cfg.Resources.BackgroundSlot(ctx)
	if err != nil {
		return 0, err
	}
	defer slot()

	start := time.Now()
	removed, err := idx.Compact(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.dirty.Store(true)
	}
	c.logger.Debug("collection compacted", "removed", removed, "duration", time.Since(start))
	return removed, nil
}

// Save writes the snapshot if the collection changed since the last save.
// In-memory and unloaded collections are skipped.
func (c *Collection) Save(ctx context.Context) error {
	path := c.Path()
	if path == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.index == nil || !c.dirty.Swap(false) {
		return nil
	}
	if err := c.writeSnapshot(ctx, c.index, path); err != nil {
		c.dirty.Store(true)
		return err
	}
	return nil
}

func (c *Collection) writeSnapshot(ctx context.Context, idx *hnsw.HNSW, path string) error {
	release, err := c.cfg.Resources.BackgroundSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	var written int64
	err = persistence.SaveToFile(path, func(w io.Writer) error {
		n, err := persistence.WriteSnapshot(c.cfg.Resources.Writer(ctx, w), persistence.SnapshotInfo{
			Collection:  uint8(c.cfg.Kind),
			Metric:      uint8(c.cfg.Metric),
			Compression: c.cfg.Compression,
			Dimension:   uint32(c.cfg.Dimension),
			Count:       uint64(idx.Count()),
		}, func(body io.Writer) error {
			_, err := idx.WriteTo(body)
			return err
		})
		written = n
		return err
	})
	if err != nil {
		return fmt.Errorf("save %s snapshot: %w", c.cfg.Kind, err)
	}

	c.logger.Debug("snapshot written", "path", path, "bytes", written, "duration", time.Since(start))
	return nil
}

// Rebuild discards the in-memory index and the snapshot and rebuilds both
// from the source. It is the recovery path for IndexCorruptionError.
func (c *Collection) Rebuild(ctx context.Context) (ReconcileReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	idx, err := c.newIndex()
	if err != nil {
		return ReconcileReport{}, err
	}
	report, err := c.reconcile(ctx, idx)
	if err != nil {
		return report, err
	}
	c.index = idx

	if path := c.Path(); path != "" {
		if err := c.writeSnapshot(ctx, idx, path); err != nil {
			c.dirty.Store(true)
			return report, err
		}
	}
	c.dirty.Store(false)

	c.logger.Info("collection rebuilt", "live", idx.Len(), "duration", time.Since(start))
	return report, nil
}

// Drop unloads the index and removes its snapshot. The next use rebuilds
// from the source.
func (c *Collection) Drop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = nil
	c.dirty.Store(false)

	if path := c.Path(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Loaded reports whether the index is in memory.
func (c *Collection) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index != nil
}

// Stats returns collection counters without forcing a load.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Kind: c.cfg.Kind, Dirty: c.dirty.Load()}
	if c.index == nil {
		return s
	}
	hs := c.index.Stats()
	s.Loaded = true
	s.Live = hs.Live
	s.Tombstones = hs.Tombstones
	s.Nodes = hs.Nodes
	return s
}
