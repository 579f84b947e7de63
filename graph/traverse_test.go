package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds n0 -> n1 -> ... -> n(n-1) with label NEXT and returns the ids.
func chain(t *testing.T, s *Store, n int) []uint64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]uint64, n)
	for i := range n {
		e, _, err := s.UpsertEntity(ctx, entity(fmt.Sprintf("n%d", i), model.Concept, ""), false)
		require.NoError(t, err)
		ids[i] = e.ID
	}
	for i := 1; i < n; i++ {
		_, _, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: ids[i-1], TargetID: ids[i], Label: "NEXT"})
		require.NoError(t, err)
	}
	return ids
}

func TestNeighborsDepth(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ids := chain(t, s, 8)

	got, truncated, err := s.Traverse(ctx, ids[0], TraverseOptions{})
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, got, DefaultDepth)
	for i, nb := range got {
		assert.Equal(t, ids[i+1], nb.Entity.ID)
		assert.Equal(t, i+1, nb.Depth)
		assert.Equal(t, "NEXT", nb.Relation.Label)
	}

	got, _, err = s.Traverse(ctx, ids[0], TraverseOptions{Depth: MaxDepth})
	require.NoError(t, err)
	assert.Len(t, got, MaxDepth)

	_, _, err = s.Traverse(ctx, ids[0], TraverseOptions{Depth: MaxDepth + 1})
	var limit *errs.LimitExceededError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, MaxDepth, limit.Max)
	assert.ErrorIs(t, err, errs.ErrLimitExceeded)

	_, _, err = s.Traverse(ctx, ids[0], TraverseOptions{Depth: -1})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestNeighborsCycleTerminates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, _, _ := s.UpsertEntity(ctx, entity("A", model.Person, ""), false)
	b, _, _ := s.UpsertEntity(ctx, entity("B", model.Person, ""), false)
	for _, r := range []model.RelationInput{
		{SourceID: a.ID, TargetID: b.ID, Label: "KNOWS"},
		{SourceID: b.ID, TargetID: a.ID, Label: "KNOWS"},
		{SourceID: a.ID, TargetID: a.ID, Label: "SELF"},
	} {
		_, _, err := s.UpsertRelation(ctx, r)
		require.NoError(t, err)
	}

	got, truncated, err := s.Traverse(ctx, a.ID, TraverseOptions{Depth: MaxDepth})
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].Entity.ID)
}

func TestNeighborsFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	alice, _, _ := s.UpsertEntity(ctx, entity("Alice", model.Person, ""), false)
	acme, _, _ := s.UpsertEntity(ctx, entity("Acme", model.Organization, ""), false)
	bob, _, _ := s.UpsertEntity(ctx, entity("Bob", model.Person, ""), false)
	berlin, _, _ := s.UpsertEntity(ctx, entity("Berlin", model.Location, ""), false)

	rels := []model.RelationInput{
		{SourceID: alice.ID, TargetID: acme.ID, Label: "WORKS_AT"},
		{SourceID: bob.ID, TargetID: acme.ID, Label: "WORKS_AT"},
		{SourceID: acme.ID, TargetID: berlin.ID, Label: "LOCATED_IN"},
	}
	for _, r := range rels {
		_, _, err := s.UpsertRelation(ctx, r)
		require.NoError(t, err)
	}

	reach, _, err := s.Reachable(ctx, alice.ID, TraverseOptions{Labels: []string{"works at"}})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{acme.ID: 1, bob.ID: 2}, reach)

	reach, _, err = s.Reachable(ctx, alice.ID, TraverseOptions{Direction: DirectionOut})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{acme.ID: 1, berlin.ID: 2}, reach)

	reach, _, err = s.Reachable(ctx, acme.ID, TraverseOptions{Direction: DirectionIn, Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]int{alice.ID: 1, bob.ID: 1}, reach)
}

func TestNeighborsUnknownStart(t *testing.T) {
	s := openTestStore(t)

	var yielded []error
	for _, err := range s.Neighbors(context.Background(), 42, TraverseOptions{}) {
		yielded = append(yielded, err)
	}
	require.Len(t, yielded, 1)
	assert.ErrorIs(t, yielded[0], ErrEntityNotFound)

	_, _, err := s.Traverse(context.Background(), 42, TraverseOptions{})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestNeighborsLazyAndRestartable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ids := chain(t, s, 5)

	seq := s.Neighbors(ctx, ids[0], TraverseOptions{})

	var first []uint64
	for nb, err := range seq {
		require.NoError(t, err)
		first = append(first, nb.Entity.ID)
		break
	}
	assert.Equal(t, []uint64{ids[1]}, first)

	var all []uint64
	for nb, err := range seq {
		require.NoError(t, err)
		all = append(all, nb.Entity.ID)
	}
	assert.Equal(t, ids[1:4], all)
}

func TestNeighborsVisitBudget(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	hub, _, _ := s.UpsertEntity(ctx, entity("hub", model.Concept, ""), false)
	for i := range 10 {
		e, _, _ := s.UpsertEntity(ctx, entity(fmt.Sprintf("spoke %d", i), model.Concept, ""), false)
		_, _, err := s.UpsertRelation(ctx, model.RelationInput{SourceID: hub.ID, TargetID: e.ID, Label: "HAS"})
		require.NoError(t, err)
	}

	got, truncated, err := s.Traverse(ctx, hub.ID, TraverseOptions{MaxVisited: 4})
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, got, 4)

	got, truncated, err = s.Traverse(ctx, hub.ID, TraverseOptions{MaxVisited: 10})
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, got, 10)
}

func TestNeighborsDeadline(t *testing.T) {
	s := openTestStore(t)
	ids := chain(t, s, 4)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	got, truncated, err := s.Traverse(expired, ids[0], TraverseOptions{})
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Empty(t, got)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, _, err = s.Traverse(cancelled, ids[0], TraverseOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
