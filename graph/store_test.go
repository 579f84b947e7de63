package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

func openTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) { o.Dimension = testDim }}, optFns...)
	s, err := Open(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(vals ...float32) []float32 {
	v := make([]float32, testDim)
	copy(v, vals)
	return v
}

func entity(name string, t model.EntityType, desc string) model.EntityInput {
	return model.EntityInput{Name: name, Type: t, Description: desc, Embedding: vec(1, 0, 0, 0)}
}

func TestOpenValidation(t *testing.T) {
	_, err := Open()
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestUpsertEntityCreateAndMerge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, created, err := s.UpsertEntity(ctx, model.EntityInput{
		Name: "Acme Corp", Type: model.Organization, Description: "A company.",
		Embedding: vec(1, 1, 0, 0), SourceChunkID: "c2",
	}, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(1), a.Version)
	assert.Equal(t, "acme corp|organization", a.Key)

	b, created, err := s.UpsertEntity(ctx, model.EntityInput{
		Name: "  ACME   corp ", Type: model.Organization, Description: "Makes anvils.",
		Embedding: vec(3, 1, 2, 0), SourceChunkID: "c1",
	}, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Acme Corp", b.Name)
	assert.Equal(t, "A company.\nMakes anvils.", b.Description)
	assert.Equal(t, []string{"c1", "c2"}, b.SourceChunkIDs)
	assert.Equal(t, []float32{2, 1, 1, 0}, b.Embedding)
	assert.Equal(t, 2, b.Contributions)
	assert.Equal(t, uint64(2), b.Version)
	assert.True(t, b.Pending)

	// Same name, different type is a different entity.
	c, created, err := s.UpsertEntity(ctx, entity("Acme Corp", model.Person, ""), false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, c.ID)

	got, err := s.EntityByKey("acme corp", model.Organization)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	assert.Len(t, s.EntitiesByName("ACME CORP"), 2)
	assert.Equal(t, 2, s.Stats().Entities)
}

func TestUpsertEntityIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	in := model.EntityInput{Name: "Ada", Type: model.Person, Description: "Mathematician.", Embedding: vec(0, 1, 0, 0), SourceChunkID: "c1"}

	first, _, err := s.UpsertEntity(ctx, in, false)
	require.NoError(t, err)
	second, created, err := s.UpsertEntity(ctx, in, false)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Description, second.Description)
	assert.Equal(t, first.SourceChunkIDs, second.SourceChunkIDs)
	assert.Equal(t, first.Embedding, second.Embedding)
	assert.Equal(t, 1, s.Stats().Entities)
}

func TestUpsertEntityMostRecent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, func(o *Options) { o.EmbeddingMerge = EmbeddingMostRecent })

	_, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "X", Type: model.Concept, Embedding: vec(1, 0, 0, 0)}, false)
	require.NoError(t, err)
	e, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "x", Type: model.Concept, Embedding: vec(0, 0, 0, 7)}, false)
	require.NoError(t, err)
	assert.Equal(t, vec(0, 0, 0, 7), e.Embedding)
}

func TestUpsertEntityValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tests := []struct {
		name string
		in   model.EntityInput
	}{
		{"empty name", model.EntityInput{Name: "   ", Type: model.Person, Embedding: vec(1)}},
		{"bad type", model.EntityInput{Name: "a", Type: model.EntityType(200), Embedding: vec(1)}},
		{"dimension", model.EntityInput{Name: "a", Type: model.Person, Embedding: []float32{1, 2}}},
		{"no embedding", model.EntityInput{Name: "a", Type: model.Person}},
		{"nan", model.EntityInput{Name: "a", Type: model.Person, Embedding: vec(float32(math.NaN()))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.UpsertEntity(ctx, tt.in, false)
			assert.ErrorIs(t, err, errs.ErrInvalid)
		})
	}
	assert.Equal(t, 0, s.Stats().Entities)
}

func TestZeroEmbeddings(t *testing.T) {
	ctx := context.Background()

	t.Run("cosine rejects zero vector", func(t *testing.T) {
		s := openTestStore(t)
		_, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "Void", Type: model.Concept, Embedding: vec()}, false)
		assert.ErrorIs(t, err, errs.ErrInvalid)
		_, _, err = s.UpsertChunk(ctx, model.ChunkInput{ID: "c", Embedding: vec()}, false)
		assert.ErrorIs(t, err, errs.ErrInvalid)
		assert.Equal(t, 0, s.Stats().Entities)
	})

	t.Run("cancelling mean keeps latest", func(t *testing.T) {
		s := openTestStore(t)
		_, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "Pole", Type: model.Concept, Embedding: vec(1, 0, 0, 0)}, false)
		require.NoError(t, err)
		e, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "pole", Type: model.Concept, Embedding: vec(-1, 0, 0, 0)}, false)
		require.NoError(t, err)
		assert.Equal(t, vec(-1, 0, 0, 0), e.Embedding)
		assert.Equal(t, 2, e.Contributions)

		var seen [][]float32
		require.NoError(t, s.ForEachVector(ctx, model.CollectionEntities, func(_, _ uint64, v []float32) error {
			seen = append(seen, v)
			return nil
		}))
		require.Len(t, seen, 1)
		assert.Equal(t, vec(-1, 0, 0, 0), seen[0])
	})

	t.Run("l2 allows zero vector", func(t *testing.T) {
		s := openTestStore(t, func(o *Options) { o.Metric = distance.MetricL2 })
		_, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "Origin", Type: model.Concept, Embedding: vec(1, 0, 0, 0)}, false)
		require.NoError(t, err)
		e, _, err := s.UpsertEntity(ctx, model.EntityInput{Name: "origin", Type: model.Concept, Embedding: vec(-1, 0, 0, 0)}, false)
		require.NoError(t, err)
		assert.Equal(t, vec(), e.Embedding)
	})
}

func TestUpsertRelation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, _, err := s.UpsertEntity(ctx, entity("Alice", model.Person, ""), false)
	require.NoError(t, err)
	b, _, err := s.UpsertEntity(ctx, entity("Acme", model.Organization, ""), false)
	require.NoError(t, err)

	r, created, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: " works at ", Weight: 2, SourceChunkID: "c1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "WORKS_AT", r.Label)

	r2, created, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "WORKS_AT", Weight: 1, Description: "since 2020", SourceChunkID: "c0"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, r2.ID)
	assert.Equal(t, 2.0, r2.Weight)
	assert.Equal(t, "since 2020", r2.Description)
	assert.Equal(t, []string{"c0", "c1"}, r2.SourceChunkIDs)

	got, err := s.Relation(model.RelationKey{SourceID: a.ID, TargetID: b.ID, Label: "works at"})
	require.NoError(t, err)
	assert.Equal(t, r2, got)

	out, err := s.Relations(a.ID, DirectionOut)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	in, err := s.Relations(a.ID, DirectionIn)
	require.NoError(t, err)
	assert.Empty(t, in)

	_, _, err = s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: 999, Label: "KNOWS"})
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, _, err = s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "  "})
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, _, err = s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "X", Weight: -1})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestUpsertRelationSumWeights(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, func(o *Options) { o.WeightMerge = WeightSum })

	a, _, _ := s.UpsertEntity(ctx, entity("A", model.Person, ""), false)
	b, _, _ := s.UpsertEntity(ctx, entity("B", model.Person, ""), false)

	for range 3 {
		_, _, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "KNOWS", Weight: 1.5})
		require.NoError(t, err)
	}
	r, err := s.Relation(model.RelationKey{SourceID: a.ID, TargetID: b.ID, Label: "KNOWS"})
	require.NoError(t, err)
	assert.Equal(t, 4.5, r.Weight)
}

func TestUpsertChunk(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c, created, err := s.UpsertChunk(ctx, model.ChunkInput{Text: "hello", Embedding: vec(1)}, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, c.ID, 36)
	assert.Equal(t, uint64(1), c.Row)

	named, _, err := s.UpsertChunk(ctx, model.ChunkInput{ID: "doc-1#0", DocumentID: "doc-1", Text: "v1", Embedding: vec(0, 1)}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), named.Row)

	replaced, created, err := s.UpsertChunk(ctx, model.ChunkInput{ID: "doc-1#0", Text: "v2", Embedding: vec(0, 2)}, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, named.Row, replaced.Row)
	assert.Equal(t, uint64(2), replaced.Version)
	assert.Equal(t, named.CreatedAt, replaced.CreatedAt)

	byRow, err := s.ChunkByRow(2)
	require.NoError(t, err)
	assert.Equal(t, "v2", byRow.Text)

	_, err = s.Chunk("missing")
	assert.ErrorIs(t, err, ErrChunkNotFound)

	_, _, err = s.UpsertChunk(ctx, model.ChunkInput{ID: "x", Embedding: []float32{1}}, false)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestLookupName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	corp, _, _ := s.UpsertEntity(ctx, entity("Acme Corp", model.Organization, ""), false)
	corpPerson, _, _ := s.UpsertEntity(ctx, entity("acme corp", model.Person, ""), false)
	corp2, _, _ := s.UpsertEntity(ctx, entity("Acme Corp.", model.Organization, ""), false)
	_, _, _ = s.UpsertEntity(ctx, entity("Globex", model.Organization, ""), false)

	exact := s.LookupName("ACME  corp", 1)
	require.Len(t, exact, 2)
	assert.Equal(t, corp.ID, exact[0].Entity.ID)
	assert.Equal(t, corpPerson.ID, exact[1].Entity.ID)
	assert.Equal(t, 1.0, exact[0].Similarity)

	fuzzy := s.LookupName("acme corp", 0.8)
	require.Len(t, fuzzy, 3)
	assert.Equal(t, corp2.ID, fuzzy[2].Entity.ID)
	assert.InDelta(t, 0.9, fuzzy[2].Similarity, 1e-9)

	assert.Empty(t, s.LookupName("initech", 0.5))
	assert.Empty(t, s.LookupName("   ", 0.5))
}

func TestPendingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e, _, err := s.UpsertEntity(ctx, entity("A", model.Person, ""), true)
	require.NoError(t, err)
	c, _, err := s.UpsertChunk(ctx, model.ChunkInput{ID: "c1", Embedding: vec(1)}, true)
	require.NoError(t, err)

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, model.CollectionEntities, pending[0].Kind)
	assert.Equal(t, e.Key, pending[0].Key)
	assert.Equal(t, model.CollectionChunks, pending[1].Kind)
	assert.Equal(t, c.Row, pending[1].ID)
	assert.Equal(t, "c1", pending[1].Key)

	cleared, err := s.ClearPending(ctx, model.CollectionEntities, e.ID, e.Version+1)
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = s.ClearPending(ctx, model.CollectionEntities, e.ID, e.Version)
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = s.ClearPending(ctx, model.CollectionChunks, c.Row, c.Version)
	require.NoError(t, err)
	assert.True(t, cleared)

	assert.Empty(t, s.Pending())
	assert.Equal(t, 0, s.Stats().Pending)

	_, err = s.ClearPending(ctx, model.CollectionEntities, 999, 1)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestForEachVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := range 5 {
		_, _, err := s.UpsertEntity(ctx, entity(fmt.Sprintf("E%d", i), model.Concept, ""), false)
		require.NoError(t, err)
	}
	_, _, err := s.UpsertChunk(ctx, model.ChunkInput{ID: "c", Embedding: vec(0, 1)}, false)
	require.NoError(t, err)

	var ids []uint64
	err = s.ForEachVector(ctx, model.CollectionEntities, func(id, version uint64, v []float32) error {
		ids = append(ids, id)
		assert.Equal(t, uint64(1), version)
		// Calling back into the store must not deadlock.
		_, err := s.Entity(id)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids)

	var rows []uint64
	require.NoError(t, s.ForEachVector(ctx, model.CollectionChunks, func(id, _ uint64, _ []float32) error {
		rows = append(rows, id)
		return nil
	}))
	assert.Equal(t, []uint64{1}, rows)

	stop := errors.New("stop")
	err = s.ForEachVector(ctx, model.CollectionEntities, func(uint64, uint64, []float32) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(func(o *Options) {
		o.Dir = dir
		o.Dimension = testDim
	})
	require.NoError(t, err)

	a, _, err := s.UpsertEntity(ctx, entity("Alice", model.Person, "Engineer."), false)
	require.NoError(t, err)
	b, _, err := s.UpsertEntity(ctx, entity("Acme", model.Organization, ""), true)
	require.NoError(t, err)
	_, _, err = s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "WORKS_AT"})
	require.NoError(t, err)
	_, _, err = s.UpsertChunk(ctx, model.ChunkInput{ID: "c1", Text: "Alice works at Acme.", Embedding: vec(1)}, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.UpsertEntity(ctx, entity("Late", model.Person, ""), false)
	assert.ErrorIs(t, err, errs.ErrClosed)

	reopened, err := Open(func(o *Options) {
		o.Dir = dir
		o.Dimension = testDim
	})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.EntityByKey("alice", model.Person)
	require.NoError(t, err)
	assert.Equal(t, "Engineer.", got.Description)

	assert.Equal(t, Stats{Entities: 2, Relations: 1, Chunks: 1, Pending: 1}, reopened.Stats())

	reach, _, err := reopened.Reachable(ctx, a.ID, TraverseOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{b.ID: 1}, reach)

	c, _, err := reopened.UpsertEntity(ctx, entity("Carol", model.Person, ""), false)
	require.NoError(t, err)
	assert.Greater(t, c.ID, b.ID)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, _, _ := s.UpsertEntity(ctx, entity("A", model.Person, ""), false)
	b, _, _ := s.UpsertEntity(ctx, entity("B", model.Person, ""), false)
	_, _, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "KNOWS"})
	require.NoError(t, err)
	c, _, err := s.UpsertChunk(ctx, model.ChunkInput{ID: "c", Embedding: vec(1)}, false)
	require.NoError(t, err)

	res, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID, b.ID}, res.Entities)
	assert.Equal(t, []uint64{c.Row}, res.ChunkRows)
	assert.Equal(t, 1, res.Relations)
	assert.Equal(t, Stats{}, s.Stats())

	_, err = s.Entity(a.ID)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	fresh, created, err := s.UpsertEntity(ctx, entity("A", model.Person, ""), false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, fresh.ID)
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)

	a, _, _ := src.UpsertEntity(ctx, entity("A", model.Person, "first"), false)
	b, _, _ := src.UpsertEntity(ctx, entity("B", model.Person, ""), false)
	_, _, err := src.UpsertRelation(ctx, model.RelationInput{SourceID: a.ID, TargetID: b.ID, Label: "KNOWS"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.Backup(&buf)
	require.NoError(t, err)

	dst := openTestStore(t)
	_, _, err = dst.UpsertEntity(ctx, entity("Z", model.Person, ""), false)
	require.NoError(t, err)

	require.NoError(t, dst.Restore(&buf))
	assert.Equal(t, src.Stats(), dst.Stats())

	got, err := dst.Entity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)

	_, err = dst.EntityByKey("z", model.Person)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	c, _, err := dst.UpsertEntity(ctx, entity("C", model.Person, ""), false)
	require.NoError(t, err)
	assert.Greater(t, c.ID, b.ID)
}

func TestFailedRestoreLeavesEmptyStore(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	a, _, err := src.UpsertEntity(ctx, entity("A", model.Person, ""), false)
	require.NoError(t, err)
	_, _, err = src.UpsertChunk(ctx, model.ChunkInput{ID: "c1", Embedding: vec(1)}, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.Backup(&buf)
	require.NoError(t, err)
	archive := buf.Bytes()

	tests := []struct {
		name string
		r    io.Reader
	}{
		{"read error", iotest.ErrReader(errors.New("connection reset"))},
		{"truncated", bytes.NewReader(archive[:len(archive)-5])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := openTestStore(t)
			z, _, err := dst.UpsertEntity(ctx, entity("Z", model.Person, ""), false)
			require.NoError(t, err)

			require.Error(t, dst.Restore(tt.r))
			assert.Equal(t, Stats{}, dst.Stats())

			_, err = dst.Entity(z.ID)
			assert.ErrorIs(t, err, ErrEntityNotFound)
			assert.Empty(t, dst.LookupName("z", 0))

			e, created, err := dst.UpsertEntity(ctx, entity("Y", model.Person, ""), false)
			require.NoError(t, err)
			assert.True(t, created)
			got, err := dst.Entity(e.ID)
			require.NoError(t, err)
			assert.Equal(t, "Y", got.Name)

			// A good archive still restores afterwards.
			require.NoError(t, dst.Restore(bytes.NewReader(archive)))
			_, err = dst.Entity(a.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, dst.Stats().Chunks)
		})
	}
}

func TestConcurrentDistinctUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				if _, _, err := s.UpsertEntity(ctx, entity(fmt.Sprintf("e-%d-%d", i, j), model.Concept, ""), false); err != nil {
					t.Errorf("UpsertEntity failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, 200, st.Entities)

	seen := make(map[uint64]bool)
	require.NoError(t, s.ForEachVector(ctx, model.CollectionEntities, func(id, _ uint64, _ []float32) error {
		assert.False(t, seen[id])
		seen[id] = true
		return nil
	}))
	assert.Len(t, seen, 200)
}
