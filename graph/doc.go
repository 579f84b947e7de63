// Package graph implements the per-workspace knowledge graph store.
//
// Entities, relations and chunks live in in-memory maps with secondary
// indexes (normalized key, name tokens, adjacency lists) and are persisted
// to an embedded Badger database. Badger sequences hand out ids. The store
// is the source of truth for the vector collections, which reconcile
// against it through ForEachVector.
//
// Entities are deduplicated by normalized key (case-folded, whitespace
// collapsed name plus type). Upserting an existing key merges the record:
// descriptions are concatenated without repeating overlapping text, source
// chunk sets are unioned and the embedding is either the running mean of
// all contributions or the most recent one. Relations are deduplicated by
// (source, target, label) and combine weights with max or sum.
//
// Traversal is a lazy breadth-first walk exposed as an iterator. Every call
// owns its visited set, so cycles terminate and iterators never share state.
package graph
