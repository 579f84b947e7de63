package graph

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/vecgraph/codec"
	"github.com/hupe1980/vecgraph/distance"
)

// EmbeddingMerge selects how a merged entity's embedding is computed.
type EmbeddingMerge uint8

const (
	// EmbeddingMean keeps the running mean of every contributed embedding.
	EmbeddingMean EmbeddingMerge = iota
	// EmbeddingMostRecent keeps the embedding of the latest upsert.
	EmbeddingMostRecent
)

func (m EmbeddingMerge) String() string {
	switch m {
	case EmbeddingMean:
		return "mean"
	case EmbeddingMostRecent:
		return "most-recent"
	default:
		return fmt.Sprintf("EmbeddingMerge(%d)", m)
	}
}

// ParseEmbeddingMerge parses "mean" or "most-recent".
func ParseEmbeddingMerge(s string) (EmbeddingMerge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return EmbeddingMean, nil
	case "most-recent", "most_recent", "recent":
		return EmbeddingMostRecent, nil
	default:
		return 0, fmt.Errorf("unknown embedding merge policy %q", s)
	}
}

// WeightMerge selects how relation weights combine on merge.
type WeightMerge uint8

const (
	// WeightMax keeps the larger weight.
	WeightMax WeightMerge = iota
	// WeightSum adds the weights.
	WeightSum
)

func (m WeightMerge) String() string {
	switch m {
	case WeightMax:
		return "max"
	case WeightSum:
		return "sum"
	default:
		return fmt.Sprintf("WeightMerge(%d)", m)
	}
}

// ParseWeightMerge parses "max" or "sum".
func ParseWeightMerge(s string) (WeightMerge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max":
		return WeightMax, nil
	case "sum":
		return WeightSum, nil
	default:
		return 0, fmt.Errorf("unknown weight merge policy %q", s)
	}
}

const (
	// DefaultDepth is the traversal depth used when none is given.
	DefaultDepth = 3
	// MaxDepth is the hard traversal depth ceiling.
	MaxDepth = 5
	// DefaultMaxVisited bounds the entities a single traversal may visit.
	DefaultMaxVisited = 10000
)

// Options configures a Store.
type Options struct {
	// Dir is the Badger directory. Empty runs Badger in memory.
	Dir string

	// Dimension is the embedding dimension of the workspace.
	Dimension int

	// Metric is the metric of the vector collections fed from this store.
	// Cosine rejects embeddings with zero norm.
	Metric distance.Metric

	EmbeddingMerge EmbeddingMerge
	WeightMerge    WeightMerge

	// Codec encodes records. Defaults to codec.Default.
	Codec codec.Codec

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool

	// MaxVisited bounds a single traversal. Defaults to DefaultMaxVisited.
	MaxVisited int

	Logger *slog.Logger
}

// DefaultOptions contains the default options for a Store.
var DefaultOptions = Options{
	EmbeddingMerge: EmbeddingMean,
	WeightMerge:    WeightMax,
	MaxVisited:     DefaultMaxVisited,
}
