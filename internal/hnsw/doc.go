// Package hnsw implements Hierarchical Navigable Small World graphs.
//
// HNSW provides approximate nearest neighbor search with high recall and
// sub-linear query time. Each index covers one (workspace, collection) pair.
//
// # Concurrency
//
// Searches share a read lock. Inserts plan their links under the read lock
// and take the write lock only to splice the new node in. Compaction holds
// the write lock for the whole rebuild and bumps a generation counter so
// concurrently planned inserts re-plan against the new graph.
//
// # Deletes
//
// Deletes are lazy tombstones kept in a Roaring bitmap. Tombstoned nodes stay
// navigable but are never returned. Compact rebuilds the graph from live
// nodes only.
//
// # Parameters
//
//   - M: links per node and layer (default: 16, layer 0 allows 2*M)
//   - EFConstruction: candidate list size while inserting (default: 200)
//   - EFSearch: candidate list size while searching (default: 64)
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
