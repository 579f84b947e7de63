// Package blobstore provides the object storage abstraction used for
// workspace backups.
//
// Store is the interface for writing and reading named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem with atomic renames
//   - Breaker: circuit breaker around any remote Store
//   - s3.Store: Amazon S3 with multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Create(ctx, name) (WritableBlob, error) // streamed write, committed on Close
//	    Put(ctx, name, data) error              // atomic write
//	    Open(ctx, name) (io.ReadCloser, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
