package model

import (
	"fmt"
	"slices"
	"time"
)

// RelationKey is the identity of a relation.
type RelationKey struct {
	SourceID uint64 `json:"source_id"`
	TargetID uint64 `json:"target_id"`
	Label    string `json:"label"`
}

func (k RelationKey) String() string {
	return fmt.Sprintf("%d-[%s]->%d", k.SourceID, k.Label, k.TargetID)
}

// Relation is a directed, labelled edge between two entities.
type Relation struct {
	ID             uint64    `json:"id"`
	SourceID       uint64    `json:"source_id"`
	TargetID       uint64    `json:"target_id"`
	Label          string    `json:"label"`
	Weight         float64   `json:"weight"`
	Description    string    `json:"description,omitempty"`
	SourceChunkIDs []string  `json:"source_chunk_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key returns the identity key of r.
func (r *Relation) Key() RelationKey {
	return RelationKey{SourceID: r.SourceID, TargetID: r.TargetID, Label: r.Label}
}

// Other returns the endpoint of r opposite to id.
func (r *Relation) Other(id uint64) uint64 {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// Clone returns a deep copy of r.
func (r *Relation) Clone() *Relation {
	if r == nil {
		return nil
	}
	c := *r
	c.SourceChunkIDs = slices.Clone(r.SourceChunkIDs)
	return &c
}

// RelationInput is an extracted relation between two resolved entities.
type RelationInput struct {
	SourceID      uint64
	TargetID      uint64
	Label         string
	Description   string
	Weight        float64
	SourceChunkID string
	Timestamp     time.Time
}

// Key returns the identity key of the input with a normalized label.
func (in RelationInput) Key() RelationKey {
	return RelationKey{SourceID: in.SourceID, TargetID: in.TargetID, Label: NormalizeLabel(in.Label)}
}
