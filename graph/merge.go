package graph

import (
	"strings"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
)

// minOverlap is the shortest suffix/prefix overlap that joins two
// description fragments instead of appending them.
const minOverlap = 16

// mergeDescription folds add into existing, which holds one fragment per
// line. Fragments already present are dropped, fragments that contain an
// existing line replace it, and fragments that continue the last line are
// joined at the overlap.
func mergeDescription(existing, add string) string {
	add = strings.TrimSpace(add)
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}

	lines := strings.Split(existing, "\n")
	for _, l := range lines {
		if strings.Contains(l, add) {
			return existing
		}
	}

	merged := make([]string, 0, len(lines)+1)
	replaced := false
	for _, l := range lines {
		if strings.Contains(add, l) {
			if !replaced {
				merged = append(merged, add)
				replaced = true
			}
			continue
		}
		merged = append(merged, l)
	}
	if replaced {
		return strings.Join(merged, "\n")
	}

	last := lines[len(lines)-1]
	if k := overlap(last, add); k >= minOverlap {
		lines[len(lines)-1] = last + add[k:]
		return strings.Join(lines, "\n")
	}
	return existing + "\n" + add
}

// overlap returns the length of the longest suffix of a that is a prefix of b.
func overlap(a, b string) int {
	for k := min(len(a), len(b)); k > 0; k-- {
		if a[len(a)-k:] == b[:k] {
			return k
		}
	}
	return 0
}

// mergeEmbedding returns the embedding after folding in v, which becomes the
// n+1-th contribution. The result never aliases cur.
func mergeEmbedding(policy EmbeddingMerge, cur []float32, n int, v []float32) []float32 {
	out := make([]float32, len(v))
	if policy == EmbeddingMostRecent || n <= 0 || len(cur) != len(v) {
		copy(out, v)
		return out
	}
	inv := 1 / float32(n+1)
	for i := range out {
		out[i] = cur[i] + (v[i]-cur[i])*inv
	}
	return out
}

func mergeWeight(policy WeightMerge, cur, add float64) float64 {
	if policy == WeightSum {
		return cur + add
	}
	return max(cur, add)
}

func (s *Store) validateEmbedding(field string, v []float32) error {
	if len(v) != s.opts.Dimension {
		return errs.DimensionMismatch(field, s.opts.Dimension, len(v))
	}
	if !distance.Finite(v) {
		return errs.Invalid(field, "contains NaN or Inf")
	}
	if s.opts.Metric == distance.MetricCosine && zeroNorm(v) {
		return errs.Invalid(field, "zero vector cannot be normalized for cosine")
	}
	return nil
}

func zeroNorm(v []float32) bool {
	return distance.Dot(v, v) == 0
}
