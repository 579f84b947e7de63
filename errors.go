package vecgraph

import (
	"errors"

	"github.com/hupe1980/vecgraph/errs"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed DB or
	// on a workspace that was closed or pruned.
	ErrClosed = errs.ErrClosed

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errs.ErrNotFound

	// ErrIncompatibleFormat is returned for persisted files of an unknown version.
	ErrIncompatibleFormat = errs.ErrIncompatibleFormat

	// ErrInvalid matches every ValidationError.
	ErrInvalid = errs.ErrInvalid

	// ErrLimitExceeded matches every LimitExceededError.
	ErrLimitExceeded = errs.ErrLimitExceeded

	// ErrOrphanRelation matches every OrphanRelationError.
	ErrOrphanRelation = errs.ErrOrphanRelation

	// ErrIndexCorruption matches every IndexCorruptionError.
	ErrIndexCorruption = errs.ErrIndexCorruption

	// ErrConcurrencyConflict matches every ConcurrencyConflictError.
	ErrConcurrencyConflict = errs.ErrConcurrencyConflict

	// ErrLocked is returned by Open when another process holds the data directory.
	ErrLocked = errors.New("data directory is locked by another process")
)

type (
	// ValidationError reports malformed input.
	ValidationError = errs.ValidationError
	// LimitExceededError reports a request above a hard limit.
	LimitExceededError = errs.LimitExceededError
	// OrphanRelationError reports a relation whose endpoints never resolved.
	OrphanRelationError = errs.OrphanRelationError
	// IndexCorruptionError reports a snapshot that failed integrity checks.
	IndexCorruptionError = errs.IndexCorruptionError
	// ConcurrencyConflictError reports a per-key lock that timed out.
	ConcurrencyConflictError = errs.ConcurrencyConflictError
)
