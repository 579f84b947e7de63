package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/model"
)

// Mode selects the retrieval strategy.
type Mode uint8

const (
	// ModeAuto derives the mode from the fields set on the query.
	ModeAuto Mode = iota
	ModeVectorOnly
	ModeGraphOnly
	ModeHybrid
	ModeDualLevel
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeVectorOnly:
		return "vector"
	case ModeGraphOnly:
		return "graph"
	case ModeHybrid:
		return "hybrid"
	case ModeDualLevel:
		return "dual-level"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses a mode name as returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "vector", "vector-only", "vector_only":
		return ModeVectorOnly, nil
	case "graph", "graph-only", "graph_only":
		return ModeGraphOnly, nil
	case "hybrid":
		return ModeHybrid, nil
	case "dual-level", "dual_level", "dual":
		return ModeDualLevel, nil
	default:
		return 0, fmt.Errorf("unknown query mode %q", s)
	}
}

// MatchedVia tells which retrieval path produced a result.
type MatchedVia uint8

const (
	MatchedVector MatchedVia = iota + 1
	MatchedGraph
	MatchedBoth
)

func (m MatchedVia) String() string {
	switch m {
	case MatchedVector:
		return "vector"
	case MatchedGraph:
		return "graph"
	case MatchedBoth:
		return "both"
	default:
		return fmt.Sprintf("MatchedVia(%d)", m)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m MatchedVia) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Constraint restricts results to entities connected to an anchor.
type Constraint struct {
	// AnchorID identifies the anchor entity. When zero, AnchorName is
	// resolved by exact normalized name; several matches act as one anchor.
	AnchorID   uint64 `json:"anchor_id,omitempty"`
	AnchorName string `json:"anchor_name,omitempty"`
	// Depth is the maximum hop count. Zero selects graph.DefaultDepth.
	Depth     int             `json:"depth,omitempty"`
	Labels    []string        `json:"labels,omitempty"`
	Direction graph.Direction `json:"direction"`
}

func (c *Constraint) empty() bool {
	return c == nil || (c.AnchorID == 0 && model.NormalizeName(c.AnchorName) == "")
}

func (c *Constraint) traverseOptions() graph.TraverseOptions {
	return graph.TraverseOptions{Depth: c.Depth, Labels: c.Labels, Direction: c.Direction}
}

// DualLevel configures the dual-level strategy.
type DualLevel struct {
	// Keywords are matched against entity names in the low-level pass.
	Keywords []string `json:"keywords,omitempty"`
	// Alpha weights the high-level vector score. Zero selects the planner default.
	Alpha float64 `json:"alpha,omitempty"`
	// MinSimilarity is the fuzzy name match threshold. Zero selects the planner default.
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// Query is a retrieval request. Its JSON form uses mode and direction
// names, so requests can be decoded with any codec.Codec.
type Query struct {
	Vector []float32 `json:"vector,omitempty"`
	TopK   int       `json:"top_k"`
	// EFSearch overrides the HNSW candidate list size: larger values raise
	// recall and latency. Zero uses the index default.
	EFSearch   int         `json:"ef_search,omitempty"`
	Mode       Mode        `json:"mode"`
	Constraint *Constraint `json:"constraint,omitempty"`
	DualLevel  *DualLevel  `json:"dual_level,omitempty"`
	// Timeout is the query deadline. Zero selects the planner default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Result is a ranked entity.
type Result struct {
	ID         uint64           `json:"id"`
	Name       string           `json:"name"`
	Type       model.EntityType `json:"type"`
	Score      float64          `json:"score"`
	MatchedVia MatchedVia       `json:"matched_via"`
	// Depth is the hop count from the anchor, zero without a constraint.
	Depth     int       `json:"depth,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response is the outcome of a query.
type Response struct {
	Mode    Mode     `json:"mode"`
	Results []Result `json:"results"`
	// Truncated is set when the deadline cut the search short or fewer
	// than TopK results satisfied the constraint.
	Truncated bool `json:"truncated"`
	// Oversample is the final oversample factor of a hybrid query.
	Oversample int `json:"oversample,omitempty"`
	// Retries counts reissued hybrid searches.
	Retries int `json:"retries,omitempty"`
}
