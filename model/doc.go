// Package model defines the records stored by vecgraph.
//
// # Identity
//
//   - Entity.ID: server assigned, stable for the lifetime of the workspace
//   - Entity.Key: normalized name plus type, unique per workspace
//   - RelationKey: (source, target, label), unique per workspace
//   - Chunk.ID: caller supplied string, Chunk.Row: server assigned vector id
//
// Entities and relations are only ever mutated by merge-on-upsert. Physical
// deletion happens through workspace prune.
package model
