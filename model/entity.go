package model

import (
	"slices"
	"time"
)

// Entity is a node of the knowledge graph.
type Entity struct {
	ID             uint64     `json:"id"`
	Name           string     `json:"name"`
	Key            string     `json:"key"`
	Type           EntityType `json:"type"`
	Description    string     `json:"description,omitempty"`
	Embedding      []float32  `json:"embedding"`
	SourceChunkIDs []string   `json:"source_chunk_ids,omitempty"`
	// Contributions counts the embeddings folded into Embedding.
	Contributions int       `json:"contributions"`
	Version       uint64    `json:"version"`
	Pending       bool      `json:"pending,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Embedding = slices.Clone(e.Embedding)
	c.SourceChunkIDs = slices.Clone(e.SourceChunkIDs)
	return &c
}

// EntityInput is an extracted entity record as produced by the ingestion pipeline.
type EntityInput struct {
	Name          string
	Type          EntityType
	Description   string
	Embedding     []float32
	SourceChunkID string
	// Timestamp is used for created/updated times; zero means now.
	Timestamp time.Time
}

// Key returns the normalized deduplication key of the input.
func (in EntityInput) Key() string {
	return EntityKey(in.Name, in.Type)
}

// UnionChunkIDs merges id into the sorted set ids.
func UnionChunkIDs(ids []string, add ...string) []string {
	for _, id := range add {
		if id == "" {
			continue
		}
		i, found := slices.BinarySearch(ids, id)
		if !found {
			ids = slices.Insert(ids, i, id)
		}
	}
	return ids
}
