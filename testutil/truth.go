package testutil

import (
	"slices"

	"github.com/hupe1980/vecgraph/distance"
)

// Neighbor is one exact search hit; ID is the index into the searched slice.
type Neighbor struct {
	ID       uint64
	Distance float32
}

// ExactKNN scans every vector and returns the k nearest to query, closest
// first. Cosine inputs are normalized the way the index normalizes them.
func ExactKNN(vectors [][]float32, query []float32, k int, metric distance.Metric) []Neighbor {
	dist, err := distance.Provider(metric)
	if err != nil {
		panic(err)
	}

	prep := func(v []float32) []float32 {
		if metric != distance.MetricCosine {
			return v
		}
		n, _ := distance.NormalizeL2Copy(v)
		return n
	}

	q := prep(query)
	out := make([]Neighbor, len(vectors))
	for i, v := range vectors {
		out[i] = Neighbor{ID: uint64(i), Distance: dist(q, prep(v))}
	}

	slices.SortStableFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return out[:min(k, len(out))]
}

// Recall is the fraction of the exact top-k found among got. Both empty
// counts as perfect recall.
func Recall(truth []Neighbor, got []uint64) float64 {
	if len(truth) == 0 {
		if len(got) == 0 {
			return 1
		}
		return 0
	}

	want := make(map[uint64]struct{}, len(truth))
	for _, n := range truth {
		want[n.ID] = struct{}{}
	}

	hits := 0
	for _, id := range got[:min(len(got), len(truth))] {
		if _, ok := want[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}
