package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/model"
)

// UpsertChunk creates or replaces the chunk with in.ID. An empty id is
// replaced by a random UUID. Replacing keeps the chunk's row and bumps its
// version.
func (s *Store) UpsertChunk(ctx context.Context, in model.ChunkInput, pending bool) (*model.Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.validateEmbedding("embedding", in.Embedding); err != nil {
		return nil, false, err
	}
	if in.Position < 0 {
		return nil, false, errs.Invalid("position", "must not be negative")
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

	c := &model.Chunk{
		ID:         id,
		DocumentID: in.DocumentID,
		Text:       in.Text,
		Embedding:  append([]float32(nil), in.Embedding...),
		Position:   in.Position,
		Version:    1,
		Pending:    pending,
		CreatedAt:  ts,
	}

	cur, exists := s.chunks[id]
	if exists {
		c.Row = cur.Row
		c.Version = cur.Version + 1
		c.CreatedAt = cur.CreatedAt
	} else {
		row, err := s.nextID(seqChunk)
		if err != nil {
			return nil, false, err
		}
		c.Row = row
	}

	if err := s.put(chunkKey(id), c); err != nil {
		return nil, false, err
	}
	s.chunks[id] = c
	s.chunkRows[c.Row] = id
	return c.Clone(), !exists, nil
}

// Chunk returns the chunk with id.
func (s *Store) Chunk(id string) (*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[id]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return c.Clone(), nil
}

// ChunkByRow returns the chunk indexed under row.
func (s *Store) ChunkByRow(row uint64) (*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.chunkRows[row]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return s.chunks[id].Clone(), nil
}
