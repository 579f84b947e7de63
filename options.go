package vecgraph

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/persistence"
	"github.com/hupe1980/vecgraph/query"
)

const (
	// DefaultRelationRetries is how often an unresolved relation endpoint is
	// looked up again before the relation is reported as orphaned.
	DefaultRelationRetries = 3
	// DefaultRelationBackoff is the initial wait between relation retries.
	// It doubles on every attempt.
	DefaultRelationBackoff = 50 * time.Millisecond
	// DefaultUpsertTimeout bounds a single record upsert during ingestion.
	DefaultUpsertTimeout = 5 * time.Second
)

// IndexOptions tunes the HNSW collections of every workspace.
type IndexOptions struct {
	M              int
	EFConstruction int
	EFSearch       int
	// Seed fixes level assignment for reproducible graphs. Nil seeds randomly.
	Seed *int64
}

// QueryOptions sets the planner defaults. Zero values select the query
// package defaults.
type QueryOptions struct {
	Oversample    int
	MaxRetries    int
	Alpha         float64
	MinSimilarity float64
	Timeout       time.Duration
}

type options struct {
	dir              string
	logger           *Logger
	metricsCollector MetricsCollector
	codec            codec.Codec
	index            IndexOptions
	query            QueryOptions
	embeddingMerge   graph.EmbeddingMerge
	weightMerge      graph.WeightMerge
	syncWrites       bool
	maxVisited       int
	compression      persistence.Compression
	lockTimeout      time.Duration

	queryWorkers      int
	backgroundWorkers int
	ioLimit           int64

	ingestWorkers   int
	relationRetries int
	relationBackoff time.Duration
	upsertTimeout   time.Duration
}

// Option configures Open.
type Option func(*options)

// WithDir stores all workspaces below dir. Without it the DB runs in memory
// and nothing survives Close.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithCodec configures the codec used for graph records and manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecgraph.BasicMetricsCollector{}
//	db, _ := vecgraph.Open(vecgraph.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is a convenience for a text logger at level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithIndexOptions tunes the HNSW collections.
func WithIndexOptions(idx IndexOptions) Option {
	return func(o *options) {
		o.index = idx
	}
}

// WithQueryOptions sets the planner defaults.
func WithQueryOptions(q QueryOptions) Option {
	return func(o *options) {
		o.query = q
	}
}

// WithMergePolicies selects how merged entity embeddings and relation
// weights are combined.
func WithMergePolicies(embedding graph.EmbeddingMerge, weight graph.WeightMerge) Option {
	return func(o *options) {
		o.embeddingMerge = embedding
		o.weightMerge = weight
	}
}

// WithSyncWrites makes every graph write durable before it returns.
func WithSyncWrites(sync bool) Option {
	return func(o *options) {
		o.syncWrites = sync
	}
}

// WithMaxVisited bounds the entities a single traversal may visit.
func WithMaxVisited(n int) Option {
	return func(o *options) {
		o.maxVisited = n
	}
}

// WithCompression selects the snapshot compression. Defaults to lz4.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithLockTimeout bounds the wait for a per-key upsert lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithWorkers bounds concurrently executing queries and background jobs
// (compaction, snapshots, backups). Zero queries means unlimited.
func WithWorkers(queries, background int) Option {
	return func(o *options) {
		o.queryWorkers = queries
		o.backgroundWorkers = background
	}
}

// WithIOLimit throttles snapshot and backup writes to bytesPerSec.
// Zero means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithIngestWorkers sets the worker count of an ingestion batch.
func WithIngestWorkers(n int) Option {
	return func(o *options) {
		o.ingestWorkers = n
	}
}

// WithRelationRetries sets how often an unresolved relation endpoint is
// retried and the initial backoff between attempts.
func WithRelationRetries(retries int, backoff time.Duration) Option {
	return func(o *options) {
		o.relationRetries = retries
		o.relationBackoff = backoff
	}
}

// WithUpsertTimeout bounds each record upsert of an ingestion batch.
func WithUpsertTimeout(d time.Duration) Option {
	return func(o *options) {
		o.upsertTimeout = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		embeddingMerge:   graph.EmbeddingMean,
		weightMerge:      graph.WeightMax,
		maxVisited:       graph.DefaultMaxVisited,
		compression:      persistence.CompressionLZ4,
		lockTimeout:      5 * time.Second,
		relationRetries:  DefaultRelationRetries,
		relationBackoff:  DefaultRelationBackoff,
		upsertTimeout:    DefaultUpsertTimeout,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if o.ingestWorkers <= 0 {
		o.ingestWorkers = runtime.GOMAXPROCS(0)
	}
	if o.relationRetries < 0 {
		o.relationRetries = 0
	}
	if o.upsertTimeout <= 0 {
		o.upsertTimeout = DefaultUpsertTimeout
	}
	return o
}

func (o *options) plannerConfig(dimension int, logger *slog.Logger) query.Config {
	return query.Config{
		Dimension:     dimension,
		Oversample:    o.query.Oversample,
		MaxRetries:    o.query.MaxRetries,
		Alpha:         o.query.Alpha,
		MinSimilarity: o.query.MinSimilarity,
		Timeout:       o.query.Timeout,
		Logger:        logger,
	}
}
