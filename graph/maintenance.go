package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// PendingRecord is a graph record whose vector write has not been confirmed.
type PendingRecord struct {
	Kind model.Collection
	// ID is the entity id or the chunk row.
	ID uint64
	// Key is the lock key of the record: the normalized entity key or the chunk id.
	Key       string
	Version   uint64
	Embedding []float32
}

// Pending returns every pending entity and chunk, entities first.
func (s *Store) Pending() []PendingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PendingRecord
	for _, e := range s.entities {
		if e.Pending {
			out = append(out, PendingRecord{Kind: model.CollectionEntities, ID: e.ID, Key: e.Key, Version: e.Version, Embedding: e.Embedding})
		}
	}
	for _, c := range s.chunks {
		if c.Pending {
			out = append(out, PendingRecord{Kind: model.CollectionChunks, ID: c.Row, Key: c.ID, Version: c.Version, Embedding: c.Embedding})
		}
	}
	slices.SortFunc(out, func(a, b PendingRecord) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// ClearPending clears the pending flag of the entity or chunk row id if it
// is still at version. It reports whether the flag was cleared; a record
// that moved on to a newer version is left for its own writer.
func (s *Store) ClearPending(ctx context.Context, kind model.Collection, id, version uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}

	switch kind {
	case model.CollectionEntities:
		e, ok := s.entities[id]
		if !ok {
			return false, ErrEntityNotFound
		}
		if !e.Pending || e.Version != version {
			return false, nil
		}
		next := e.Clone()
		next.Pending = false
		if err := s.put(entityKey(id), next); err != nil {
			return false, err
		}
		s.entities[id] = next
		return true, nil
	case model.CollectionChunks:
		cid, ok := s.chunkRows[id]
		if !ok {
			return false, ErrChunkNotFound
		}
		c := s.chunks[cid]
		if !c.Pending || c.Version != version {
			return false, nil
		}
		next := c.Clone()
		next.Pending = false
		if err := s.put(chunkKey(cid), next); err != nil {
			return false, err
		}
		s.chunks[cid] = next
		return true, nil
	default:
		return false, errs.Invalid("collection", "unknown collection %v", kind)
	}
}

// ForEachVector calls fn with the id, version and embedding of every entity
// or chunk. The records are snapshotted first, so fn may call back into the
// store.
func (s *Store) ForEachVector(ctx context.Context, kind model.Collection, fn func(id, version uint64, vec []float32) error) error {
	type rec struct {
		id, version uint64
		vec         []float32
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errs.ErrClosed
	}
	var recs []rec
	switch kind {
	case model.CollectionEntities:
		recs = make([]rec, 0, len(s.entities))
		for _, e := range s.entities {
			recs = append(recs, rec{e.ID, e.Version, e.Embedding})
		}
	case model.CollectionChunks:
		recs = make([]rec, 0, len(s.chunks))
		for _, c := range s.chunks {
			recs = append(recs, rec{c.Row, c.Version, c.Embedding})
		}
	default:
		s.mu.RUnlock()
		return errs.Invalid("collection", "unknown collection %v", kind)
	}
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b rec) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	for i, r := range recs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(r.id, r.version, r.vec); err != nil {
			return err
		}
	}
	return nil
}

// PruneResult lists what Prune removed, so callers can tombstone vectors.
type PruneResult struct {
	Entities  []uint64
	ChunkRows []uint64
	Relations int
}

// Prune physically removes every entity, relation and chunk.
func (s *Store) Prune(ctx context.Context) (PruneResult, error) {
	if err := ctx.Err(); err != nil {
		return PruneResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{
		Entities:  make([]uint64, 0, len(s.entities)),
		ChunkRows: make([]uint64, 0, len(s.chunks)),
		Relations: len(s.relations),
	}
	for id := range s.entities {
		res.Entities = append(res.Entities, id)
	}
	for row := range s.chunkRows {
		res.ChunkRows = append(res.ChunkRows, row)
	}
	slices.Sort(res.Entities)
	slices.Sort(res.ChunkRows)

	if err := s.dropAll(); err != nil {
		return PruneResult{}, err
	}

	s.logger.Info("graph store pruned",
		"entities", len(res.Entities),
		"relations", res.Relations,
		"chunks", len(res.ChunkRows),
	)
	return res, nil
}

// dropAll wipes Badger and the in-memory maps. Sequences are released
// first so no leased id survives the wipe. Callers hold s.mu.
func (s *Store) dropAll() error {
	s.releaseSequences()
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("drop graph store: %w", err)
	}
	s.resetMaps()
	return s.acquireSequences()
}

// Backup streams a full Badger backup to w and returns the backup version.
func (s *Store) Backup(w io.Writer) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.db.Backup(w, 0)
}

// Restore replaces the contents of the store with a backup written by Backup.
// A failed restore leaves the store empty and writable. If even that cannot
// be arranged the store is closed.
func (s *Store) Restore(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.releaseSequences()
	err := s.restore(r)
	if err == nil {
		return nil
	}

	s.logger.Error("restore failed, emptying graph store", "error", err)
	if derr := s.dropAll(); derr != nil {
		s.closed = true
		s.releaseSequences()
		return errors.Join(err, derr, s.db.Close())
	}
	return err
}

func (s *Store) restore(r io.Reader) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("restore graph store: %w", err)
	}
	if err := s.db.Load(r, 256); err != nil {
		return fmt.Errorf("restore graph store: %w", err)
	}
	s.resetMaps()
	if err := s.acquireSequences(); err != nil {
		return err
	}
	if err := s.load(); err != nil {
		return fmt.Errorf("restore graph store: %w", err)
	}
	return nil
}

// Stats describes the store contents.
type Stats struct {
	Entities  int
	Relations int
	Chunks    int
	Pending   int
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Entities:  len(s.entities),
		Relations: len(s.relations),
		Chunks:    len(s.chunks),
	}
	for _, e := range s.entities {
		if e.Pending {
			st.Pending++
		}
	}
	for _, c := range s.chunks {
		if c.Pending {
			st.Pending++
		}
	}
	return st
}
