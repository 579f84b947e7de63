package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/distance"
)

func TestGenerators(t *testing.T) {
	rng := NewRNG(4711)

	uniform := rng.UniformVectors(8, 32)
	require.Len(t, uniform, 8)
	for _, v := range uniform {
		require.Len(t, v, 32)
		for _, x := range v {
			assert.True(t, x >= 0 && x < 1)
		}
	}

	for _, v := range rng.UnitVectors(8, 32) {
		assert.InDelta(t, 1.0, distance.Dot(v, v), 1e-5)
	}

	clustered := rng.ClusteredVectors(100, 16, 5, 0.01)
	require.Len(t, clustered, 100)
	// Members of one cluster sit close together.
	assert.Less(t, distance.SquaredL2(clustered[0], clustered[5]), float32(0.1))
}

func TestResetReproduces(t *testing.T) {
	rng := NewRNG(4711)
	first := rng.UniformVectors(2, 10)
	names := rng.Names(5)

	rng.Reset()
	assert.Equal(t, first, rng.UniformVectors(2, 10))
	assert.Equal(t, names, rng.Names(5))
}

func TestNamesDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, n := range NewRNG(1).Names(50) {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
}

func TestExactKNNAndRecall(t *testing.T) {
	data := [][]float32{{1, 0}, {0, 1}, {0.9, 0.1}, {-1, 0}}

	res := ExactKNN(data, []float32{1, 0}, 2, distance.MetricL2)
	require.Len(t, res, 2)
	assert.Equal(t, uint64(0), res[0].ID)
	assert.Equal(t, uint64(2), res[1].ID)

	assert.Len(t, ExactKNN(data, []float32{1, 0}, 10, distance.MetricCosine), 4)

	assert.Equal(t, 1.0, Recall(res, []uint64{2, 0}))
	assert.Equal(t, 0.5, Recall(res, []uint64{0, 3}))
	assert.Equal(t, 1.0, Recall(nil, nil))
	assert.Equal(t, 0.0, Recall(res, nil))
}
