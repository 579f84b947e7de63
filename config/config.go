// Package config loads engine settings from YAML, dotenv files and
// VECGRAPH_* environment variables and converts them into vecgraph options.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/persistence"
)

// EnvPrefix prefixes every environment variable, e.g. VECGRAPH_QUERY_TIMEOUT.
const EnvPrefix = "VECGRAPH"

// Config holds all engine configuration.
type Config struct {
	// Dir is the data directory. Empty runs in memory.
	Dir         string        `mapstructure:"dir"`
	Codec       string        `mapstructure:"codec"`
	Compression string        `mapstructure:"compression"`
	SyncWrites  bool          `mapstructure:"sync_writes"`
	MaxVisited  int           `mapstructure:"max_visited"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	Log     LogConfig     `mapstructure:"log"`
	Index   IndexConfig   `mapstructure:"index"`
	Merge   MergeConfig   `mapstructure:"merge"`
	Query   QueryConfig   `mapstructure:"query"`
	Workers WorkersConfig `mapstructure:"workers"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Backup  BackupConfig  `mapstructure:"backup"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json or none
}

// IndexConfig holds HNSW parameters. A zero seed selects a random one.
type IndexConfig struct {
	M              int   `mapstructure:"m"`
	EFConstruction int   `mapstructure:"ef_construction"`
	EFSearch       int   `mapstructure:"ef_search"`
	Seed           int64 `mapstructure:"seed"`
}

// MergeConfig holds the merge policies.
type MergeConfig struct {
	Embedding string `mapstructure:"embedding"` // mean, most-recent
	Weight    string `mapstructure:"weight"`    // max, sum
}

// QueryConfig holds the planner defaults.
type QueryConfig struct {
	Oversample    int           `mapstructure:"oversample"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Alpha         float64       `mapstructure:"alpha"`
	MinSimilarity float64       `mapstructure:"min_similarity"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// WorkersConfig holds pool sizes and the IO limit.
type WorkersConfig struct {
	Query      int   `mapstructure:"query"`
	Background int   `mapstructure:"background"`
	Ingest     int   `mapstructure:"ingest"`
	IOLimit    int64 `mapstructure:"io_limit"` // bytes per second
}

// IngestConfig holds ingestion retry settings.
type IngestConfig struct {
	RelationRetries int           `mapstructure:"relation_retries"`
	RelationBackoff time.Duration `mapstructure:"relation_backoff"`
	UpsertTimeout   time.Duration `mapstructure:"upsert_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", "")
	v.SetDefault("codec", codec.Default.Name())
	v.SetDefault("compression", persistence.CompressionLZ4.String())
	v.SetDefault("sync_writes", false)
	v.SetDefault("max_visited", graph.DefaultMaxVisited)
	v.SetDefault("lock_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("index.m", 16)
	v.SetDefault("index.ef_construction", 200)
	v.SetDefault("index.ef_search", 64)
	v.SetDefault("index.seed", 0)

	v.SetDefault("merge.embedding", graph.EmbeddingMean.String())
	v.SetDefault("merge.weight", graph.WeightMax.String())

	v.SetDefault("query.oversample", 4)
	v.SetDefault("query.max_retries", 3)
	v.SetDefault("query.alpha", 0.5)
	v.SetDefault("query.min_similarity", 0.8)
	v.SetDefault("query.timeout", 5*time.Second)

	v.SetDefault("workers.query", 0)
	v.SetDefault("workers.background", 1)
	v.SetDefault("workers.ingest", 0)
	v.SetDefault("workers.io_limit", 0)

	v.SetDefault("ingest.relation_retries", vecgraph.DefaultRelationRetries)
	v.SetDefault("ingest.relation_backoff", vecgraph.DefaultRelationBackoff)
	v.SetDefault("ingest.upsert_timeout", vecgraph.DefaultUpsertTimeout)

	v.SetDefault("backup.store", "none")
	v.SetDefault("backup.path", "")
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.prefix", "vecgraph/")
	v.SetDefault("backup.region", "")
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.access_key", "")
	v.SetDefault("backup.secret_key", "")
	v.SetDefault("backup.insecure", false)
	v.SetDefault("backup.breaker", true)
}

// Load builds the configuration from defaults, the optional YAML file,
// dotenv files and VECGRAPH_* environment variables, in increasing
// precedence. Without envFiles a .env in the working directory is read
// when present. Dotenv files never override variables already set.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", configFile, fs.ErrNotExist)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// Logger builds the configured logger.
func (c *Config) Logger() (*vecgraph.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return vecgraph.NewTextLogger(level), nil
	case "json":
		return vecgraph.NewJSONLogger(level), nil
	case "none":
		return vecgraph.NoopLogger(), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
}

// Options converts the configuration into engine options.
func (c *Config) Options() ([]vecgraph.Option, error) {
	cd, ok := codec.ByName(c.Codec)
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (want one of %s)", c.Codec, strings.Join(codec.Names(), ", "))
	}
	compression, err := persistence.ParseCompression(c.Compression)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	embedding, err := graph.ParseEmbeddingMerge(c.Merge.Embedding)
	if err != nil {
		return nil, fmt.Errorf("merge.embedding: %w", err)
	}
	weight, err := graph.ParseWeightMerge(c.Merge.Weight)
	if err != nil {
		return nil, fmt.Errorf("merge.weight: %w", err)
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}

	idx := vecgraph.IndexOptions{
		M:              c.Index.M,
		EFConstruction: c.Index.EFConstruction,
		EFSearch:       c.Index.EFSearch,
	}
	if c.Index.Seed != 0 {
		seed := c.Index.Seed
		idx.Seed = &seed
	}

	return []vecgraph.Option{
		vecgraph.WithDir(c.Dir),
		vecgraph.WithLogger(logger),
		vecgraph.WithCodec(cd),
		vecgraph.WithCompression(compression),
		vecgraph.WithSyncWrites(c.SyncWrites),
		vecgraph.WithMaxVisited(c.MaxVisited),
		vecgraph.WithLockTimeout(c.LockTimeout),
		vecgraph.WithIndexOptions(idx),
		vecgraph.WithMergePolicies(embedding, weight),
		vecgraph.WithQueryOptions(vecgraph.QueryOptions{
			Oversample:    c.Query.Oversample,
			MaxRetries:    c.Query.MaxRetries,
			Alpha:         c.Query.Alpha,
			MinSimilarity: c.Query.MinSimilarity,
			Timeout:       c.Query.Timeout,
		}),
		vecgraph.WithWorkers(c.Workers.Query, c.Workers.Background),
		vecgraph.WithIngestWorkers(c.Workers.Ingest),
		vecgraph.WithIOLimit(c.Workers.IOLimit),
		vecgraph.WithRelationRetries(c.Ingest.RelationRetries, c.Ingest.RelationBackoff),
		vecgraph.WithUpsertTimeout(c.Ingest.UpsertTimeout),
	}, nil
}

// Open loads the configuration and opens the engine with it.
func Open(configFile string, envFiles ...string) (*vecgraph.DB, error) {
	cfg, err := Load(configFile, envFiles...)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return vecgraph.Open(opts...)
}
