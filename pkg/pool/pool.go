// Package pool provides a bounded pool of exclusive resource handles with
// FIFO-fair, timeout-bound acquisition.
//
// Resources are created lazily up to a fixed capacity. Callers that find the
// pool exhausted wait in arrival order; a released resource is handed to the
// oldest live waiter before it can be claimed by a newly arriving caller.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Factory constructs a new resource handle. It is invoked lazily, outside the
// pool lock, the first time an Acquire finds no idle resource while the pool
// is under capacity.
type Factory[T comparable] func(ctx context.Context) (T, error)

// Closer tears down a resource handle.
type Closer[T comparable] func(T) error

// Config holds pool construction parameters.
type Config struct {
	// Capacity is the maximum number of resources the pool will ever create.
	// Must be at least 1.
	Capacity int

	// AcquireTimeout bounds how long an Acquire call may wait for a resource
	// once the pool is exhausted.
	AcquireTimeout time.Duration
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Total   int `json:"total"`
	InUse   int `json:"inUse"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
}

// waiter represents one Acquire call suspended on an exhausted pool.
// settled flips exactly once, always under the pool mutex; whichever of the
// grant, timeout, cancellation, or close paths flips it owns the outcome.
type waiter[T comparable] struct {
	grant   chan T
	settled bool
}

// Pool hands out at most Capacity exclusive resource handles.
type Pool[T comparable] struct {
	cfg     Config
	factory Factory[T]
	closer  Closer[T]
	logger  *slog.Logger

	mu       sync.Mutex
	idle     []T // LIFO: most recently released at the tail
	inUse    map[T]struct{}
	waiters  []*waiter[T] // FIFO: oldest at the head
	created  int
	timeouts uint64
	closed   bool
}

// New constructs a pool. The closer may be nil for resources that need no
// teardown. The logger may be nil, in which case slog.Default() is used.
func New[T comparable](cfg Config, factory Factory[T], closer Closer[T], logger *slog.Logger) (*Pool[T], error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("pool: capacity must be at least 1, got %d", cfg.Capacity)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool[T]{
		cfg:     cfg,
		factory: factory,
		closer:  closer,
		logger:  logger,
		inUse:   make(map[T]struct{}),
	}, nil
}

// Acquire returns an exclusive resource handle. If an idle resource exists it
// is returned immediately; otherwise a new one is created while under
// capacity. When the pool is exhausted the caller waits, FIFO relative to
// other waiters, until a release grants it a resource, the configured
// AcquireTimeout elapses, or ctx is cancelled.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		res := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[res] = struct{}{}
		p.mu.Unlock()
		return res, nil
	}

	if p.created < p.cfg.Capacity {
		// Reserve the slot before running the factory so concurrent
		// acquires cannot overshoot capacity while creation is in flight.
		p.created++
		p.mu.Unlock()
		return p.create(ctx)
	}

	w := &waiter[T]{grant: make(chan T, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	return p.wait(ctx, w)
}

func (p *Pool[T]) create(ctx context.Context) (T, error) {
	var zero T

	res, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		return zero, fmt.Errorf("pool: create resource: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		p.destroy(res)
		return zero, ErrPoolClosed
	}
	p.inUse[res] = struct{}{}
	p.mu.Unlock()
	return res, nil
}

func (p *Pool[T]) wait(ctx context.Context, w *waiter[T]) (T, error) {
	var zero T

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-w.grant:
		if !ok {
			return zero, ErrPoolClosed
		}
		return res, nil

	case <-timer.C:
		res, granted, poolClosed := p.abandon(w)
		if granted {
			// A release settled this waiter in the same tick the timer
			// fired. The grant wins; the timeout is discarded.
			return res, nil
		}
		if poolClosed {
			return zero, ErrPoolClosed
		}
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		return zero, &AcquireTimeoutError{Timeout: p.cfg.AcquireTimeout}

	case <-ctx.Done():
		res, granted, _ := p.abandon(w)
		if granted {
			// Too late to refuse the grant; hand the resource straight
			// back so it reaches the next waiter.
			if err := p.Release(res); err != nil {
				p.destroy(res)
			}
		}
		return zero, ctx.Err()
	}
}

// abandon settles w from the caller's side. If a grant or a pool close raced
// ahead of the caller, that outcome is reported instead.
func (p *Pool[T]) abandon(w *waiter[T]) (res T, granted, poolClosed bool) {
	p.mu.Lock()
	if w.settled {
		p.mu.Unlock()
		if r, ok := <-w.grant; ok {
			return r, true, false
		}
		return res, false, true
	}
	w.settled = true
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	return res, false, false
}

// Release returns a resource to the pool. If waiters are queued the resource
// is handed directly to the oldest live one; otherwise it rejoins the idle
// set. Releasing a handle the pool did not issue, or releasing the same
// handle twice, fails with ErrInvalidRelease and leaves pool state untouched.
func (p *Pool[T]) Release(res T) error {
	p.mu.Lock()
	if _, ok := p.inUse[res]; !ok {
		p.mu.Unlock()
		p.logger.Error("Rejected release of resource not checked out", "resource", fmt.Sprintf("%v", res))
		return ErrInvalidRelease
	}
	delete(p.inUse, res)

	if p.closed {
		// Deferred teardown: in-use resources are destroyed as they come back.
		p.created--
		p.mu.Unlock()
		p.destroy(res)
		return nil
	}

	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.settled {
			// Timed out or cancelled between queueing and this release.
			continue
		}
		w.settled = true
		p.inUse[res] = struct{}{}
		w.grant <- res
		p.mu.Unlock()
		return nil
	}

	p.idle = append(p.idle, res)
	p.mu.Unlock()
	return nil
}

// Close marks the pool closed, fails all pending waiters with ErrPoolClosed,
// and destroys every idle resource. Resources currently checked out are
// destroyed as they are released. Close is idempotent.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)

	for _, w := range waiters {
		if !w.settled {
			w.settled = true
			close(w.grant)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, res := range idle {
		if p.closer != nil {
			if err := p.closer(res); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Stats reports current pool occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Total:   p.created,
		InUse:   len(p.inUse),
		Idle:    len(p.idle),
		Waiting: len(p.waiters),
	}
}

// Timeouts reports how many Acquire calls have failed with
// AcquireTimeoutError since the pool was built.
func (p *Pool[T]) Timeouts() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeouts
}

func (p *Pool[T]) destroy(res T) {
	if p.closer == nil {
		return
	}
	if err := p.closer(res); err != nil {
		p.logger.Error("Failed to close pooled resource", "error", err)
	}
}
