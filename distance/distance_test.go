package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Single", []float32{2}, []float32{3}, 6},
		{"Unrolled", []float32{1, 1, 1, 1, 1}, []float32{1, 2, 3, 4, 5}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))

	src := []float32{0, 2}
	dst, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 2}, src)
	assert.Equal(t, []float32{0, 1}, dst)
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite([]float32{1, -2}))
	assert.False(t, Finite([]float32{float32(math.NaN())}))
	assert.False(t, Finite([]float32{float32(math.Inf(1))}))
}

func TestProviderAndScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	for _, m := range []Metric{MetricCosine, MetricDot, MetricL2} {
		t.Run(m.String(), func(t *testing.T) {
			fn, err := Provider(m)
			require.NoError(t, err)
			self := Score(m, fn(a, a))
			other := Score(m, fn(a, b))
			assert.Greater(t, self, other)
		})
	}

	_, err := Provider(Metric(9))
	assert.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("IP")
	require.NoError(t, err)
	assert.Equal(t, MetricDot, m)

	var out Metric
	require.NoError(t, out.UnmarshalText([]byte("euclidean")))
	assert.Equal(t, MetricL2, out)

	_, err = ParseMetric("hamming")
	assert.Error(t, err)
}
