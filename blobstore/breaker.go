package blobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("blob store unavailable")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name string
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when to trip.
	MinRequests  uint32
	FailureRatio float64
	Logger       *slog.Logger
}

// DefaultBreakerConfig returns settings suited to remote object stores.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// Breaker wraps a Store with a circuit breaker. Missing blobs and caller
// cancellation do not count as failures.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

var _ Store = (*Breaker)(nil)

// NewBreaker wraps inner.
func NewBreaker(inner Store, cfg BreakerConfig) *Breaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			logger.Log(context.Background(), level, "blob store breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

// State returns the breaker state name.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return v, err
}

func (b *Breaker) Create(ctx context.Context, name string) (WritableBlob, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Create(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return &breakerBlob{WritableBlob: v.(WritableBlob), b: b}, nil
}

func (b *Breaker) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Put(ctx, name, data)
	})
	return err
}

func (b *Breaker) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Open(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(io.ReadCloser), nil
}

func (b *Breaker) Delete(ctx context.Context, name string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Delete(ctx, name)
	})
	return err
}

func (b *Breaker) List(ctx context.Context, prefix string) ([]string, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// breakerBlob reports the commit outcome to the breaker.
type breakerBlob struct {
	WritableBlob
	b *Breaker
}

func (w *breakerBlob) Close() error {
	_, err := w.b.execute(func() (any, error) {
		return nil, w.WritableBlob.Close()
	})
	return err
}
