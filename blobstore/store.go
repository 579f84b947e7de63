package blobstore

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/hupe1980/vecgraph/errs"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over flat blob namespaces used for backups.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create starts a streamed write. The blob becomes visible on Close;
	// Abort discards it.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Open opens a blob for sequential reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Close commits the blob.
	Close() error
	// Abort discards the blob. It is a no-op after Close.
	Abort() error
}

// ValidateName rejects names that are empty, absolute or escape the store root.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errs.Invalid("name", "must not be empty")
	case strings.HasPrefix(name, "/"):
		return errs.Invalid("name", "must be relative, got %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return errs.Invalid("name", "invalid path segment in %q", name)
		}
	}
	return nil
}

// ReadAll opens name and reads it fully.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	r, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
