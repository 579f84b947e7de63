// Package errs defines the error taxonomy shared by the graph store, the
// vector index, the consistency manager and the query planner.
//
// Every typed error implements Unwrap so callers can use errors.Is against
// the sentinels below or errors.As against the concrete types.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine or workspace.
	ErrClosed = errors.New("closed")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIncompatibleFormat is returned when a persisted file has an unknown magic or format version.
	ErrIncompatibleFormat = errors.New("incompatible format")

	// ErrInvalid is the sentinel matched by every ValidationError.
	ErrInvalid = errors.New("invalid argument")

	// ErrLimitExceeded is the sentinel matched by every LimitExceededError.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrOrphanRelation is the sentinel matched by every OrphanRelationError.
	ErrOrphanRelation = errors.New("orphan relation")

	// ErrIndexCorruption is the sentinel matched by every IndexCorruptionError.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrConcurrencyConflict is the sentinel matched by every ConcurrencyConflictError.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DimensionMismatch returns a ValidationError describing a vector of the wrong length.
func DimensionMismatch(field string, expected, actual int) *ValidationError {
	return Invalid(field, "dimension mismatch: expected %d, got %d", expected, actual)
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func (e *ValidationError) Unwrap() error { return e.cause }

// LimitExceededError reports a request above a hard limit.
type LimitExceededError struct {
	Limit string
	Value int
	Max   int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: %s %d exceeds maximum %d", e.Limit, e.Value, e.Max)
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

// OrphanRelationError reports a relation whose endpoints could not be
// resolved within the retry budget.
type OrphanRelationError struct {
	Source   string
	Target   string
	Label    string
	Attempts int
	cause    error
}

// Orphan returns an OrphanRelationError wrapping cause.
func Orphan(source, target, label string, attempts int, cause error) *OrphanRelationError {
	return &OrphanRelationError{Source: source, Target: target, Label: label, Attempts: attempts, cause: cause}
}

func (e *OrphanRelationError) Error() string {
	msg := fmt.Sprintf("orphan relation %s -[%s]-> %s after %d attempts", e.Source, e.Label, e.Target, e.Attempts)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *OrphanRelationError) Is(target error) bool { return target == ErrOrphanRelation }

func (e *OrphanRelationError) Unwrap() error { return e.cause }

// IndexCorruptionError reports a vector index snapshot that failed integrity checks.
type IndexCorruptionError struct {
	Collection string
	Path       string
	Err        error
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("index corruption in %s (%s): %v", e.Collection, e.Path, e.Err)
}

func (e *IndexCorruptionError) Is(target error) bool { return target == ErrIndexCorruption }

func (e *IndexCorruptionError) Unwrap() error { return e.Err }

// ConcurrencyConflictError reports a lock that could not be acquired in time.
type ConcurrencyConflictError struct {
	Key    string
	Waited time.Duration
	cause  error
}

// Conflict returns a ConcurrencyConflictError wrapping cause.
func Conflict(key string, waited time.Duration, cause error) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{Key: key, Waited: waited, cause: cause}
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: lock %q not acquired after %s", e.Key, e.Waited)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConcurrencyConflictError) Unwrap() error { return e.cause }

// IsIndexCorruption reports whether err is or wraps an IndexCorruptionError.
func IsIndexCorruption(err error) bool {
	var ic *IndexCorruptionError
	return errors.As(err, &ic)
}
