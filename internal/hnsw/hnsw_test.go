package hnsw

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dim int, metric distance.Metric) *HNSW {
	t.Helper()
	seed := int64(42)
	h, err := New(func(o *Options) {
		o.Dimension = dim
		o.Metric = metric
		o.RandomSeed = &seed
	})
	require.NoError(t, err)
	return h
}

func TestNewValidation(t *testing.T) {
	_, err := New(func(o *Options) { o.Dimension = 0 })
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = New(func(o *Options) {
		o.Dimension = 4
		o.Metric = distance.Metric(99)
	})
	assert.ErrorIs(t, err, errs.ErrInvalid)

	h, err := New(func(o *Options) {
		o.Dimension = 4
		o.M = 1
	})
	require.NoError(t, err)
	assert.Equal(t, minimumM, h.Options().M)
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 3, distance.MetricL2)

	require.NoError(t, h.Insert(ctx, 10, 1, []float32{0, 0, 0}))
	require.NoError(t, h.Insert(ctx, 20, 1, []float32{1, 0, 0}))
	require.NoError(t, h.Insert(ctx, 30, 1, []float32{5, 5, 5}))

	hits, truncated, err := h.Search(ctx, []float32{0.9, 0, 0}, 2, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(20), hits[0].ID)
	assert.Equal(t, uint64(10), hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, 3, h.Len())
}

func TestSearchEmptyIndex(t *testing.T) {
	h := newTestIndex(t, 4, distance.MetricCosine)

	hits, truncated, err := h.Search(context.Background(), []float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Empty(t, hits)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 3, distance.MetricCosine)

	tests := []struct {
		name string
		vec  []float32
	}{
		{"short", []float32{1, 2}},
		{"long", []float32{1, 2, 3, 4}},
		{"zero cosine", []float32{0, 0, 0}},
		{"nan", []float32{1, float32(nanValue()), 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Insert(ctx, 1, 1, tt.vec)
			assert.ErrorIs(t, err, errs.ErrInvalid)
		})
	}

	_, _, err := h.Search(ctx, []float32{1, 2}, 1, 0)
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, _, err = h.Search(ctx, []float32{1, 2, 3}, 0, 0)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	const (
		dim     = 32
		count   = 1000
		queries = 50
		k       = 10
	)

	rng := testutil.NewRNG(7)
	data := rng.UnitVectors(count, dim)
	h := newTestIndex(t, dim, distance.MetricCosine)
	for i, v := range data {
		require.NoError(t, h.Insert(ctx, uint64(i), 1, v))
	}

	var total float64
	for q := range queries {
		query := data[rng.Intn(count)]
		if q%2 == 1 {
			query = rng.UnitVector(dim)
		}

		truth := testutil.ExactKNN(data, query, k, distance.MetricCosine)

		hits, truncated, err := h.Search(ctx, query, k, 128)
		require.NoError(t, err)
		require.False(t, truncated)

		ids := make([]uint64, len(hits))
		for i, hit := range hits {
			ids[i] = hit.ID
		}
		total += testutil.Recall(truth, ids)
	}

	recall := total / queries
	t.Logf("recall@%d: %.3f", k, recall)
	assert.GreaterOrEqual(t, recall, 0.9)
}

func TestBruteSearchMatchesGroundTruth(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	data := rng.UniformVectors(200, 8)

	h := newTestIndex(t, 8, distance.MetricL2)
	for i, v := range data {
		require.NoError(t, h.Insert(ctx, uint64(i), 1, v))
	}

	hits, err := h.BruteSearch(ctx, data[17], 5)
	require.NoError(t, err)

	truth := testutil.ExactKNN(data, data[17], 5, distance.MetricL2)
	require.Len(t, hits, 5)
	for i := range hits {
		assert.Equal(t, truth[i].ID, hits[i].ID)
	}
	assert.Equal(t, uint64(17), hits[0].ID)
}

func TestDeleteNeverReturned(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(11)
	data := rng.UnitVectors(300, 16)

	h := newTestIndex(t, 16, distance.MetricCosine)
	for i, v := range data {
		require.NoError(t, h.Insert(ctx, uint64(i), 1, v))
	}

	deleted := make(map[uint64]bool)
	for i := 0; i < len(data); i += 3 {
		assert.True(t, h.Delete(uint64(i)))
		deleted[uint64(i)] = true
	}
	assert.False(t, h.Delete(100000))

	for i := range 30 {
		hits, _, err := h.Search(ctx, data[i], 20, 0)
		require.NoError(t, err)
		assert.Len(t, hits, 20)
		for _, hit := range hits {
			assert.False(t, deleted[hit.ID], "tombstoned id %d returned", hit.ID)
		}
	}

	stats := h.Stats()
	assert.Equal(t, 200, stats.Live)
	assert.Equal(t, 100, stats.Tombstones)
	assert.Equal(t, 300, stats.Nodes)
}

func TestReinsertReplacesVector(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 2, distance.MetricL2)

	require.NoError(t, h.Insert(ctx, 1, 1, []float32{0, 0}))
	require.NoError(t, h.Insert(ctx, 2, 1, []float32{10, 10}))
	require.NoError(t, h.Insert(ctx, 1, 2, []float32{10, 9}))

	v, ok := h.Version(1)
	require.True(t, ok)
	assert.Equal(t, uint64(2), v)

	vec, ok := h.Vector(1)
	require.True(t, ok)
	assert.Equal(t, []float32{10, 9}, vec)

	hits, _, err := h.Search(ctx, []float32{0, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 1, h.Stats().Tombstones)
}

func TestExpiredDeadlineTruncates(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(5)
	h := newTestIndex(t, 8, distance.MetricCosine)
	for i, v := range rng.UnitVectors(500, 8) {
		require.NoError(t, h.Insert(ctx, uint64(i), 1, v))
	}

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()

	start := time.Now()
	hits, truncated, err := h.Search(expired, rng.UnitVector(8), 10, 0)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(hits), 10)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInsertHonoursCancellation(t *testing.T) {
	h := newTestIndex(t, 2, distance.MetricL2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Insert(ctx, 1, 1, []float32{1, 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.Len())
}

func TestIDsAndReset(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t, 2, distance.MetricDot)
	for i := range 5 {
		require.NoError(t, h.Insert(ctx, uint64(i+1), 1, []float32{float32(i), 1}))
	}
	h.Delete(3)

	assert.ElementsMatch(t, []uint64{1, 2, 4, 5}, h.IDs())

	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, -1, h.Stats().MaxLevel)

	require.NoError(t, h.Insert(ctx, 9, 1, []float32{1, 1}))
	hits, _, err := h.Search(ctx, []float32{1, 1}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(9), hits[0].ID)
}
