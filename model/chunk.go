package model

import (
	"slices"
	"time"
)

// Chunk is a slice of a source document with its embedding.
type Chunk struct {
	ID         string    `json:"id"`
	Row        uint64    `json:"row"`
	DocumentID string    `json:"document_id,omitempty"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	Position   int       `json:"position"`
	Version    uint64    `json:"version"`
	Pending    bool      `json:"pending,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone returns a deep copy of c.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Embedding = slices.Clone(c.Embedding)
	return &cp
}

// ChunkInput is a chunk record as produced by the ingestion pipeline.
// An empty ID is replaced by a generated UUID.
type ChunkInput struct {
	ID         string
	DocumentID string
	Text       string
	Embedding  []float32
	Position   int
	Timestamp  time.Time
}
