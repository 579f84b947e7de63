package vecgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/internal/resource"
	"github.com/hupe1980/vecgraph/query"
)

const workspacesDir = "workspaces"

var workspaceName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// WorkspaceConfig declares the immutable embedding layout of a workspace.
type WorkspaceConfig struct {
	Dimension int
	// Metric defaults to cosine.
	Metric distance.Metric
}

// DB is an engine instance holding any number of workspaces.
type DB struct {
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
	lock      *dirLock

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool

	opening singleflight.Group
}

// Open opens the engine. With WithDir the directory is created if needed
// and locked against other processes until Close.
func Open(optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	db := &DB{
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
		resources: resource.NewController(resource.Config{
			MaxQueryWorkers:      int64(opts.queryWorkers),
			MaxBackgroundWorkers: int64(opts.backgroundWorkers),
			IOLimitBytesPerSec:   opts.ioLimit,
		}),
		workspaces: make(map[string]*Workspace),
	}

	if opts.dir != "" {
		if err := os.MkdirAll(filepath.Join(opts.dir, workspacesDir), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		lock, err := lockDir(opts.dir)
		if err != nil {
			return nil, err
		}
		db.lock = lock
	}

	db.logger.Info("engine opened", "dir", opts.dir, "in_memory", opts.dir == "")
	return db, nil
}

// Workspace returns the named workspace, creating it on first access.
// Reopening a workspace with a different dimension or metric fails with
// a ValidationError.
func (db *DB) Workspace(ctx context.Context, name string, cfg WorkspaceConfig) (*Workspace, error) {
	if !workspaceName.MatchString(name) {
		return nil, errs.Invalid("workspace", "invalid name %q", name)
	}
	if cfg.Dimension <= 0 {
		return nil, errs.Invalid("dimension", "must be positive, got %d", cfg.Dimension)
	}
	if !cfg.Metric.Valid() {
		return nil, errs.Invalid("metric", "unsupported metric %v", cfg.Metric)
	}

	if ws, ok, err := db.registered(name, cfg); ok || err != nil {
		return ws, err
	}

	// Opening reads the graph store and may run recovery, so it happens
	// outside db.mu. Concurrent opens of one name share a single attempt.
	v, err, _ := db.opening.Do(name, func() (any, error) {
		if ws, ok, err := db.registered(name, cfg); ok || err != nil {
			return ws, err
		}
		ws, err := openWorkspace(ctx, db, name, cfg)
		if err != nil {
			return nil, err
		}

		db.mu.Lock()
		if db.closed {
			db.mu.Unlock()
			_ = ws.close(context.Background())
			return nil, ErrClosed
		}
		db.workspaces[name] = ws
		db.mu.Unlock()
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	ws := v.(*Workspace)
	if err := ws.compatible(cfg); err != nil {
		return nil, err
	}
	return ws, nil
}

// registered returns the open workspace name, checked against cfg.
func (db *DB) registered(name string, cfg WorkspaceConfig) (*Workspace, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, false, ErrClosed
	}
	ws, ok := db.workspaces[name]
	if !ok {
		return nil, false, nil
	}
	if err := ws.compatible(cfg); err != nil {
		return nil, false, err
	}
	return ws, true, nil
}

// DBStats is a point-in-time view of engine load.
type DBStats struct {
	OpenWorkspaces   int
	ActiveQueries    int64
	ActiveBackground int64
}

// Stats reports open workspaces and the worker slots currently held.
func (db *DB) Stats() DBStats {
	db.mu.Lock()
	open := len(db.workspaces)
	db.mu.Unlock()

	q, bg := db.resources.Active()
	return DBStats{OpenWorkspaces: open, ActiveQueries: q, ActiveBackground: bg}
}

// Workspaces returns the names of all workspaces, open or on disk, sorted.
func (db *DB) Workspaces() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}

	names := make([]string, 0, len(db.workspaces))
	for name := range db.workspaces {
		names = append(names, name)
	}
	if db.opts.dir != "" {
		entries, err := os.ReadDir(filepath.Join(db.opts.dir, workspacesDir))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && !slices.Contains(names, e.Name()) {
				names = append(names, e.Name())
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

// QueryRequest addresses a query to an open workspace.
type QueryRequest struct {
	Workspace string
	Query     query.Query
}

// QueryResult is the outcome of one QueryRequest.
type QueryResult struct {
	Response *query.Response
	Err      error
}

// QueryBatch runs the queries concurrently on the query worker pool and
// returns the results in request order. A failing query does not affect
// the others.
func (db *DB) QueryBatch(ctx context.Context, reqs []QueryRequest) []QueryResult {
	results := make([]QueryResult, len(reqs))

	limit := db.opts.queryWorkers
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			ws, err := db.lookup(req.Workspace)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Response, results[i].Err = ws.Query(ctx, req.Query)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (db *DB) lookup(name string) (*Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	ws, ok := db.workspaces[name]
	if !ok {
		return nil, fmt.Errorf("workspace %q: %w", name, errs.ErrNotFound)
	}
	return ws, nil
}

func (db *DB) unregister(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.workspaces, name)
}

// Close snapshots every loaded collection, closes all workspaces and
// releases the data directory.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	open := make([]*Workspace, 0, len(db.workspaces))
	for _, ws := range db.workspaces {
		open = append(open, ws)
	}
	db.workspaces = nil
	db.mu.Unlock()

	var errList []error
	for _, ws := range open {
		if err := ws.close(context.Background()); err != nil {
			errList = append(errList, fmt.Errorf("close workspace %q: %w", ws.name, err))
		}
	}
	if err := db.lock.release(); err != nil {
		errList = append(errList, err)
	}

	db.logger.Info("engine closed", "workspaces", len(open))
	return errors.Join(errList...)
}
