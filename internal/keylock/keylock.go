// Package keylock provides per-key mutual exclusion with bounded waits.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/vecgraph/errs"
	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Map hands out one lock per key. Entries are reference counted and removed
// once no goroutine holds or waits for them.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// New creates a Map. A positive timeout bounds every Lock call.
func New(timeout time.Duration) *Map {
	return &Map{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Lock acquires the lock for key and returns its release function.
// It fails with a ConcurrencyConflictError when the wait exceeds the map
// timeout or the context deadline.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	start := time.Now()
	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		m.unref(key, e)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		return nil, errs.Conflict(key, time.Since(start), err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.unref(key, e)
		})
	}, nil
}

func (m *Map) unref(key string, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
