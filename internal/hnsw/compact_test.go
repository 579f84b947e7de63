package hnsw

import (
	"context"
	"testing"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact(t *testing.T) {
	ctx := context.Background()
	const (
		dim         = 16
		count       = 1000
		deleteCount = 500
	)

	h := newTestIndex(t, dim, distance.MetricL2)
	vectors := testutil.NewRNG(42).UniformVectors(count, dim)
	for i, v := range vectors {
		require.NoError(t, h.Insert(ctx, uint64(i), 1, v))
	}

	deleted := make(map[uint64]bool)
	for i := range deleteCount {
		id := uint64(i * 2)
		require.True(t, h.Delete(id))
		deleted[id] = true
	}

	removed, err := h.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, deleteCount, removed)

	stats := h.Stats()
	assert.Equal(t, count-deleteCount, stats.Live)
	assert.Equal(t, count-deleteCount, stats.Nodes)
	assert.Equal(t, 0, stats.Tombstones)

	for i := 1; i < count; i += 50 {
		hits, _, err := h.Search(ctx, vectors[i], 5, 0)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, uint64(i), hits[0].ID)
		for _, hit := range hits {
			assert.False(t, deleted[hit.ID])
		}
	}

	removed, err = h.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCompactCancelled(t *testing.T) {
	h := newTestIndex(t, 4, distance.MetricL2)
	for i, v := range testutil.NewRNG(1).UniformVectors(50, 4) {
		require.NoError(t, h.Insert(context.Background(), uint64(i), 1, v))
	}
	h.Delete(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Compact(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.Stats().Tombstones)
}
