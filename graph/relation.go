package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// DefaultWeight is assigned to relations upserted without a weight.
const DefaultWeight = 1.0

// UpsertRelation creates the relation or merges in into the relation with
// the same (source, target, label). Both endpoints must exist; a missing one
// fails with an error matching ErrEntityNotFound.
func (s *Store) UpsertRelation(ctx context.Context, in model.RelationInput) (*model.Relation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := in.Key()
	if key.Label == "" {
		return nil, false, errs.Invalid("label", "must not be empty")
	}
	if math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0) || in.Weight < 0 {
		return nil, false, errs.Invalid("weight", "must be a finite non-negative number, got %v", in.Weight)
	}
	weight := in.Weight
	if weight == 0 {
		weight = DefaultWeight
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	for _, id := range []uint64{key.SourceID, key.TargetID} {
		if _, ok := s.entities[id]; !ok {
			return nil, false, fmt.Errorf("relation %s: endpoint %d: %w", key, id, ErrEntityNotFound)
		}
	}

	if id, ok := s.relByKey[key]; ok {
		cur := s.relations[id]
		next := cur.Clone()
		next.Weight = mergeWeight(s.opts.WeightMerge, cur.Weight, weight)
		next.Description = mergeDescription(cur.Description, in.Description)
		next.SourceChunkIDs = model.UnionChunkIDs(next.SourceChunkIDs, in.SourceChunkID)
		if ts.After(next.UpdatedAt) {
			next.UpdatedAt = ts
		}
		if err := s.put(relationKey(id), next); err != nil {
			return nil, false, err
		}
		s.relations[id] = next
		return next.Clone(), false, nil
	}

	id, err := s.nextID(seqRelation)
	if err != nil {
		return nil, false, err
	}
	r := &model.Relation{
		ID:             id,
		SourceID:       key.SourceID,
		TargetID:       key.TargetID,
		Label:          key.Label,
		Weight:         weight,
		Description:    mergeDescription("", in.Description),
		SourceChunkIDs: model.UnionChunkIDs(nil, in.SourceChunkID),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := s.put(relationKey(id), r); err != nil {
		return nil, false, err
	}
	s.indexRelation(r)
	return r.Clone(), true, nil
}

// Relation returns the relation with the given identity key. The label is
// normalized before lookup.
func (s *Store) Relation(key model.RelationKey) (*model.Relation, error) {
	key.Label = model.NormalizeLabel(key.Label)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.relByKey[key]
	if !ok {
		return nil, ErrRelationNotFound
	}
	return s.relations[id].Clone(), nil
}

// Relations returns the relations touching entity id in the given direction,
// ordered by relation id.
func (s *Store) Relations(id uint64, dir Direction) ([]*model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[id]; !ok {
		return nil, ErrEntityNotFound
	}
	ids := s.adjacent(id, dir)
	out := make([]*model.Relation, 0, len(ids))
	for _, rid := range ids {
		out = append(out, s.relations[rid].Clone())
	}
	return out, nil
}

// adjacent returns the relation ids around id. Callers hold s.mu.
func (s *Store) adjacent(id uint64, dir Direction) []uint64 {
	switch dir {
	case DirectionOut:
		return s.out[id]
	case DirectionIn:
		return s.in[id]
	default:
		outs, ins := s.out[id], s.in[id]
		merged := make([]uint64, 0, len(outs)+len(ins))
		i, j := 0, 0
		for i < len(outs) || j < len(ins) {
			switch {
			case j >= len(ins) || (i < len(outs) && outs[i] < ins[j]):
				merged = append(merged, outs[i])
				i++
			case i >= len(outs) || ins[j] < outs[i]:
				merged = append(merged, ins[j])
				j++
			default: // self loop appears in both lists
				merged = append(merged, outs[i])
				i++
				j++
			}
		}
		return merged
	}
}
