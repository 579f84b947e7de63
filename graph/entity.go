package graph

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// UpsertEntity creates the entity or merges in into the entity with the same
// normalized key. The stored record carries the given pending flag and a
// bumped version. It reports whether the entity was created.
//
// Callers serialize upserts of the same key; the store only guarantees that
// each upsert is applied atomically.
func (s *Store) UpsertEntity(ctx context.Context, in model.EntityInput, pending bool) (*model.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if model.NormalizeName(in.Name) == "" {
		return nil, false, errs.Invalid("name", "must not be empty")
	}
	if !in.Type.Valid() {
		return nil, false, errs.Invalid("type", "unknown entity type %d", in.Type)
	}
	if err := s.validateEmbedding("embedding", in.Embedding); err != nil {
		return nil, false, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	key := in.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	if id, ok := s.byKey[key]; ok {
		cur := s.entities[id]
		next := cur.Clone()
		next.Description = mergeDescription(cur.Description, in.Description)
		next.SourceChunkIDs = model.UnionChunkIDs(next.SourceChunkIDs, in.SourceChunkID)
		next.Embedding = mergeEmbedding(s.opts.EmbeddingMerge, cur.Embedding, cur.Contributions, in.Embedding)
		if s.opts.Metric == distance.MetricCosine && zeroNorm(next.Embedding) {
			// Opposing contributions cancelled out; cosine cannot index that.
			next.Embedding = slices.Clone(in.Embedding)
		}
		next.Contributions++
		next.Version++
		next.Pending = pending
		if ts.After(next.UpdatedAt) {
			next.UpdatedAt = ts
		}

		if err := s.put(entityKey(id), next); err != nil {
			return nil, false, err
		}
		s.entities[id] = next
		return next.Clone(), false, nil
	}

	id, err := s.nextID(seqEntity)
	if err != nil {
		return nil, false, err
	}
	e := &model.Entity{
		ID:             id,
		Name:           in.Name,
		Key:            key,
		Type:           in.Type,
		Description:    mergeDescription("", in.Description),
		Embedding:      mergeEmbedding(s.opts.EmbeddingMerge, nil, 0, in.Embedding),
		SourceChunkIDs: model.UnionChunkIDs(nil, in.SourceChunkID),
		Contributions:  1,
		Version:        1,
		Pending:        pending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := s.put(entityKey(id), e); err != nil {
		return nil, false, err
	}
	s.indexEntity(e)
	return e.Clone(), true, nil
}

// Entity returns the entity with id.
func (s *Store) Entity(id uint64) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e.Clone(), nil
}

// EntityByKey returns the entity with the normalized key of name and t.
func (s *Store) EntityByKey(name string, t model.EntityType) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[model.EntityKey(name, t)]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return s.entities[id].Clone(), nil
}

// EntitiesByName returns every entity whose normalized name equals name's,
// regardless of type, ordered by id.
func (s *Store) EntitiesByName(name string) []*model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byName[model.NormalizeName(name)]
	out := make([]*model.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entities[id].Clone())
	}
	return out
}

// NameMatch is an entity matched by name lookup.
type NameMatch struct {
	Entity *model.Entity
	// Similarity is 1 for an exact normalized match, otherwise the
	// normalized Levenshtein similarity of the two names.
	Similarity float64
}

// LookupName resolves name against entity names. Exact normalized matches
// score 1; entities sharing at least one name token are scored by edit
// distance and kept when their similarity reaches minSimilarity. Matches are
// ordered by similarity, then id.
func (s *Store) LookupName(name string, minSimilarity float64) []NameMatch {
	norm := model.NormalizeName(name)
	if norm == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make(map[uint64]float64)
	for _, id := range s.byName[norm] {
		scored[id] = 1
	}

	if minSimilarity < 1 {
		for _, tok := range uniqueTokens(norm) {
			for _, id := range s.tokens[tok] {
				if _, done := scored[id]; done {
					continue
				}
				sim := similarity(norm, model.NormalizeName(s.entities[id].Name))
				if sim >= minSimilarity {
					scored[id] = sim
				} else {
					scored[id] = -1
				}
			}
		}
	}

	out := make([]NameMatch, 0, len(scored))
	for id, sim := range scored {
		if sim < 0 {
			continue
		}
		out = append(out, NameMatch{Entity: s.entities[id].Clone(), Similarity: sim})
	}
	slices.SortFunc(out, func(a, b NameMatch) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity.ID, b.Entity.ID)
	})
	return out
}
