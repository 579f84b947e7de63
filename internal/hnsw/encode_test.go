package hnsw

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/persistence"
	"github.com/hupe1980/vecgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(8)
	data := rng.UnitVectors(400, 12)

	src := newTestIndex(t, 12, distance.MetricCosine)
	for i, v := range data {
		require.NoError(t, src.Insert(ctx, uint64(i+1), uint64(i%7), v))
	}
	src.Delete(5)
	src.Delete(77)
	require.NoError(t, src.Insert(ctx, 9, 42, data[0]))

	var buf bytes.Buffer
	n, err := src.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	dst := newTestIndex(t, 12, distance.MetricCosine)
	require.NoError(t, dst.ReadFrom(&buf))

	assert.Equal(t, src.Stats(), dst.Stats())
	assert.ElementsMatch(t, src.IDs(), dst.IDs())

	v, ok := dst.Version(9)
	require.True(t, ok)
	assert.Equal(t, uint64(42), v)
	_, ok = dst.Version(5)
	assert.False(t, ok)

	for i := 0; i < len(data); i += 40 {
		want, _, err := src.Search(ctx, data[i], 10, 0)
		require.NoError(t, err)
		got, _, err := dst.Search(ctx, data[i], 10, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadFromRejectsDamage(t *testing.T) {
	ctx := context.Background()
	src := newTestIndex(t, 4, distance.MetricL2)
	for i, v := range testutil.NewRNG(2).UniformVectors(20, 4) {
		require.NoError(t, src.Insert(ctx, uint64(i), 1, v))
	}

	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.Bytes()

	t.Run("truncated", func(t *testing.T) {
		dst := newTestIndex(t, 4, distance.MetricL2)
		err := dst.ReadFrom(bytes.NewReader(raw[:len(raw)/2]))
		assert.ErrorIs(t, err, persistence.ErrTruncated)
		assert.Equal(t, 0, dst.Len())
	})

	t.Run("wrong M", func(t *testing.T) {
		dst, err := New(func(o *Options) {
			o.Dimension = 4
			o.Metric = distance.MetricL2
			o.M = 8
		})
		require.NoError(t, err)
		assert.ErrorIs(t, dst.ReadFrom(bytes.NewReader(raw)), errs.ErrIncompatibleFormat)
	})

	t.Run("not empty", func(t *testing.T) {
		err := src.ReadFrom(bytes.NewReader(raw))
		assert.True(t, errors.Is(err, ErrInvalidGraph))
	})
}
