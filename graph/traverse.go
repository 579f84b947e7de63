package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// ErrTraversalTruncated is yielded as the last element of a traversal that
// stopped early because its deadline expired or its visit budget ran out.
var ErrTraversalTruncated = errors.New("traversal truncated")

// Direction selects which edges a traversal follows.
type Direction uint8

const (
	// DirectionBoth follows edges regardless of orientation.
	DirectionBoth Direction = iota
	// DirectionOut follows edges from source to target.
	DirectionOut
	// DirectionIn follows edges from target to source.
	DirectionIn
)

func (d Direction) String() string {
	switch d {
	case DirectionBoth:
		return "both"
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	default:
		return fmt.Sprintf("Direction(%d)", d)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if d > DirectionIn {
		return nil, errs.Invalid("direction", "unknown direction %d", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection parses "both", "out" or "in".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return DirectionBoth, nil
	case "out", "outgoing":
		return DirectionOut, nil
	case "in", "incoming":
		return DirectionIn, nil
	default:
		return 0, errs.Invalid("direction", "unknown direction %q", s)
	}
}

// TraverseOptions bounds a traversal.
type TraverseOptions struct {
	// Depth is the maximum hop count. Zero selects DefaultDepth.
	Depth int
	// Labels restricts the followed relations. Empty follows every label.
	Labels    []string
	Direction Direction
	// MaxVisited overrides the store's visit budget when positive.
	MaxVisited int
}

// Normalize validates o and fills in defaults.
func (o TraverseOptions) Normalize() (TraverseOptions, error) {
	switch {
	case o.Depth < 0:
		return o, errs.Invalid("depth", "must not be negative, got %d", o.Depth)
	case o.Depth == 0:
		o.Depth = DefaultDepth
	case o.Depth > MaxDepth:
		return o, &errs.LimitExceededError{Limit: "depth", Value: o.Depth, Max: MaxDepth}
	}
	if o.Direction > DirectionIn {
		return o, errs.Invalid("direction", "unknown direction %d", o.Direction)
	}
	return o, nil
}

// Neighbor is an entity reached by a traversal.
type Neighbor struct {
	Entity *model.Entity
	// Relation is the edge the entity was first reached through.
	Relation *model.Relation
	// Depth is the hop count from the start entity.
	Depth int
}

// Neighbors lazily walks the graph breadth-first from id and yields every
// reachable entity once, with the edge it was first reached through. The
// start entity itself is not yielded.
//
// Validation errors, an unknown start (ErrEntityNotFound) and caller
// cancellation are yielded as the only or last element. When the context
// deadline expires or the visit budget runs out, ErrTraversalTruncated is
// yielded after the entities found so far.
func (s *Store) Neighbors(ctx context.Context, id uint64, opts TraverseOptions) iter.Seq2[Neighbor, error] {
	return func(yield func(Neighbor, error) bool) {
		opts, err := opts.Normalize()
		if err != nil {
			yield(Neighbor{}, err)
			return
		}

		budget := opts.MaxVisited
		if budget <= 0 {
			budget = s.opts.MaxVisited
		}
		labels := make(map[string]struct{}, len(opts.Labels))
		for _, l := range opts.Labels {
			if n := model.NormalizeLabel(l); n != "" {
				labels[n] = struct{}{}
			}
		}

		s.mu.RLock()
		_, ok := s.entities[id]
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			yield(Neighbor{}, errs.ErrClosed)
			return
		}
		if !ok {
			yield(Neighbor{}, ErrEntityNotFound)
			return
		}

		visited := roaring64.New()
		visited.Add(id)
		frontier := []uint64{id}

		for depth := 1; depth <= opts.Depth && len(frontier) > 0; depth++ {
			var next []uint64
			for _, cur := range frontier {
				if err := ctx.Err(); err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						err = ErrTraversalTruncated
					}
					yield(Neighbor{}, err)
					return
				}

				found := s.expand(cur, opts.Direction, labels, visited)
				for _, nb := range found {
					if visited.GetCardinality() > uint64(budget) {
						yield(Neighbor{}, ErrTraversalTruncated)
						return
					}
					visited.Add(nb.Entity.ID)
					nb.Depth = depth
					next = append(next, nb.Entity.ID)
					if !yield(nb, nil) {
						return
					}
				}
			}
			frontier = next
		}
	}
}

// expand returns the unvisited neighbours of id under the read lock. The
// lock is released before anything is yielded to the caller.
func (s *Store) expand(id uint64, dir Direction, labels map[string]struct{}, visited *roaring64.Bitmap) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Neighbor
	seen := make(map[uint64]struct{})
	for _, rid := range s.adjacent(id, dir) {
		r := s.relations[rid]
		if len(labels) > 0 {
			if _, ok := labels[r.Label]; !ok {
				continue
			}
		}
		other := r.Other(id)
		if visited.Contains(other) {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		e, ok := s.entities[other]
		if !ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, Neighbor{Entity: e.Clone(), Relation: r.Clone()})
	}
	return out
}

// Traverse collects Neighbors into a slice. An expired deadline or an
// exhausted visit budget is reported through truncated, not as an error.
func (s *Store) Traverse(ctx context.Context, id uint64, opts TraverseOptions) ([]Neighbor, bool, error) {
	var out []Neighbor
	for nb, err := range s.Neighbors(ctx, id, opts) {
		if errors.Is(err, ErrTraversalTruncated) {
			return out, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		out = append(out, nb)
	}
	return out, false, nil
}

// Reachable returns the ids reachable from id mapped to their hop count.
func (s *Store) Reachable(ctx context.Context, id uint64, opts TraverseOptions) (map[uint64]int, bool, error) {
	out := make(map[uint64]int)
	for nb, err := range s.Neighbors(ctx, id, opts) {
		if errors.Is(err, ErrTraversalTruncated) {
			return out, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		out[nb.Entity.ID] = nb.Depth
	}
	return out, false, nil
}
