package resource

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the engine-wide limits. Zero values mean unlimited, except
// MaxBackgroundWorkers which defaults to 1.
type Config struct {
	MaxQueryWorkers      int64
	MaxBackgroundWorkers int64
	// IOLimitBytesPerSec throttles snapshot and backup writes.
	IOLimitBytesPerSec int64
}

// Release returns a slot. It is safe to call more than once.
type Release func()

// Controller hands out query slots, background slots and IO bandwidth.
type Controller struct {
	queries    *semaphore.Weighted // nil when unlimited
	background *semaphore.Weighted
	io         *rate.Limiter // nil when unlimited

	activeQueries    atomic.Int64
	activeBackground atomic.Int64
}

func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{background: semaphore.NewWeighted(cfg.MaxBackgroundWorkers)}
	if cfg.MaxQueryWorkers > 0 {
		c.queries = semaphore.NewWeighted(cfg.MaxQueryWorkers)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

func noop() {}

// QuerySlot blocks until a query may run or ctx is done.
func (c *Controller) QuerySlot(ctx context.Context) (Release, error) {
	if c == nil {
		return noop, nil
	}
	return c.acquire(ctx, c.queries, &c.activeQueries)
}

// BackgroundSlot blocks until a compaction, snapshot or backup may run.
// Callers that also hold a collection lock take the lock first.
func (c *Controller) BackgroundSlot(ctx context.Context) (Release, error) {
	if c == nil {
		return noop, nil
	}
	return c.acquire(ctx, c.background, &c.activeBackground)
}

func (c *Controller) acquire(ctx context.Context, sem *semaphore.Weighted, active *atomic.Int64) (Release, error) {
	if sem == nil {
		active.Add(1)
		var once atomic.Bool
		return func() {
			if once.CompareAndSwap(false, true) {
				active.Add(-1)
			}
		}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return c.release(sem, active), nil
}

func (c *Controller) release(sem *semaphore.Weighted, active *atomic.Int64) Release {
	active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			active.Add(-1)
			sem.Release(1)
		}
	}
}

// Active reports the number of queries and background jobs holding a slot.
func (c *Controller) Active() (queries, background int64) {
	if c == nil {
		return 0, 0
	}
	return c.activeQueries.Load(), c.activeBackground.Load()
}

// WaitIO blocks until n bytes fit in the IO budget. Requests larger than
// one second of budget are split.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.io.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Writer throttles w to the IO budget. Without a limit w is returned as is.
func (c *Controller) Writer(ctx context.Context, w io.Writer) io.Writer {
	if c == nil || c.io == nil {
		return w
	}
	return &throttled{ctx: ctx, w: w, c: c}
}

type throttled struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

func (t *throttled) Write(p []byte) (int, error) {
	if err := t.c.WaitIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}
