// Package vectorindex manages the per-workspace vector collections.
//
// A Collection wraps one HNSW graph for either entity or chunk embeddings.
// It is loaded lazily from its snapshot on first use and reconciled against
// the graph store, which is the source of truth: vectors missing from the
// snapshot or carrying an older version are re-inserted, vectors without a
// graph record are tombstoned.
//
// Snapshot handling on load:
//
//   - missing file: the index is rebuilt from the graph store
//   - unknown magic, version or parameters: logged and rebuilt
//   - checksum mismatch or undecodable payload: *errs.IndexCorruptionError,
//     callers heal with Rebuild and retry
package vectorindex
