// Package cache implements the TTL-bounded, key-addressed lookup layer
// that fronts the credential store and the permission resolver. It is a
// pure performance layer: a total flush never changes an authorization
// decision, only its latency. Misses are recomputed under stampede
// protection so a hot key is computed once no matter how many callers
// race on it.
package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable signals a backend failure. Callers absorb it and
	// fall through to direct computation against the store.
	ErrUnavailable = errors.New("cache: backend unavailable")
	// ErrRecomputeTimeout is returned when the owning recompute exceeds
	// the configured compute timeout. Retryable.
	ErrRecomputeTimeout = errors.New("cache: recompute timed out")
)

// Entry is a cached value plus the generation stamp assigned by the
// backend. Generations are monotonically increasing per key and never
// regress, even across eviction, so a write stamped before an eviction
// can be told apart from one stamped after it.
type Entry struct {
	Value      []byte
	Generation uint64
}

// Backend is the storage layer behind a Cache. Set and CompareAndSet
// must assign the entry a generation strictly greater than any
// generation previously assigned to the same key, and Delete must
// advance the key's generation so that a CompareAndSet stamped before
// the eviction cannot land afterward. Get reports the key's current
// generation even on a miss.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (Entry, error)
	// CompareAndSet stores value only if the key's generation still
	// equals expect. The bool reports whether the write happened.
	CompareAndSet(ctx context.Context, key string, value []byte, ttl time.Duration, expect uint64) (Entry, bool, error)
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// Recorder receives cache activity counts. Implementations must be
// concurrency safe; a nil Recorder disables recording.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheShared()
	CacheFallback()
}

// Config bounds cache recomputation.
type Config struct {
	// ComputeTimeout bounds the owning recompute. Zero means one second.
	ComputeTimeout time.Duration
	// WaitTimeout bounds how long a non-owning caller waits on the
	// in-flight recompute before falling back to direct compute.
	// Zero means one second.
	WaitTimeout time.Duration
}

// Cache wraps a Backend with get-or-compute semantics and single-flight
// stampede protection.
type Cache struct {
	backend  Backend
	group    singleflight.Group
	recorder Recorder

	computeTimeout time.Duration
	waitTimeout    time.Duration
}

// New creates a Cache over the given backend.
func New(backend Backend, cfg Config, recorder Recorder) *Cache {
	computeTimeout := cfg.ComputeTimeout
	if computeTimeout <= 0 {
		computeTimeout = time.Second
	}
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = time.Second
	}
	return &Cache{
		backend:        backend,
		recorder:       recorder,
		computeTimeout: computeTimeout,
		waitTimeout:    waitTimeout,
	}
}

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. Concurrent callers for the same missing key trigger exactly
// one computation; the others wait for the shared result up to the wait
// timeout and then compute directly. A backend failure on the read path
// degrades to direct compute and reports ErrUnavailable through the
// recorder, never to the caller.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	entry, ok, err := c.backend.Get(ctx, key)
	if err == nil && ok {
		c.record(Recorder.CacheHit)
		return entry.Value, nil
	}
	if err != nil {
		// Cache health never blocks the decision path.
		c.record(Recorder.CacheFallback)
		return compute(ctx)
	}
	c.record(Recorder.CacheMiss)

	// Stamp the flight with the generation observed before the compute.
	// An eviction that lands while the compute is in flight advances the
	// key's generation, and the write below refuses to store a result
	// that may predate the mutation behind that eviction.
	stamp := entry.Generation

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The recompute is detached from the triggering caller: other
		// waiters may still need the result after that caller aborts.
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()

		value, err := compute(computeCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRecomputeTimeout
			}
			return nil, err
		}
		// A refused write means an eviction intervened: the value is
		// still served to the callers already in flight, but it must not
		// repopulate the key, so the next reader recomputes from current
		// state.
		if _, _, err := c.backend.CompareAndSet(computeCtx, key, value, ttl, stamp); err != nil {
			// Value is still good; storing it is best effort.
			c.record(Recorder.CacheFallback)
		}
		return value, nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.record(Recorder.CacheShared)
		}
		return res.Val.([]byte), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Waited out the in-flight recompute; go straight to the store.
		c.record(Recorder.CacheFallback)
		return compute(ctx)
	}
}

// Get returns the raw entry for key without computing on miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	return c.backend.Get(ctx, key)
}

// Set stores value under key. The backend assigns the next generation.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (Entry, error) {
	return c.backend.Set(ctx, key, value, ttl)
}

// Invalidate evicts key. Missing keys are not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.group.Forget(key)
	return c.backend.Delete(ctx, key)
}

// Flush drops every entry. Authorization results are unaffected; only
// latency is.
func (c *Cache) Flush(ctx context.Context) error {
	return c.backend.Flush(ctx)
}

func (c *Cache) record(fn func(Recorder)) {
	if c.recorder != nil {
		fn(c.recorder)
	}
}
