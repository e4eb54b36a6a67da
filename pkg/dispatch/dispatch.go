// Package dispatch serializes concurrent calls into a single non-reentrant
// engine behind a rate-limited FIFO queue.
//
// Callers enqueue work and suspend until their specific item is dispatched
// and settled. A single drain goroutine owns the queue at any time and spaces
// consecutive engine invocations by at least the configured minimum interval.
// One item's failure never affects the items queued behind it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval spaces engine calls at roughly three per second.
const DefaultMinInterval = 334 * time.Millisecond

// Config holds dispatcher construction parameters.
type Config struct {
	// MinInterval is the minimum wall-clock gap between two consecutive
	// dispatched invocations. Defaults to DefaultMinInterval when zero.
	MinInterval time.Duration
}

// Stats is a point-in-time snapshot of dispatcher state.
type Stats struct {
	QueueDepth int    `json:"queueDepth"`
	InFlight   int    `json:"inFlight"`
	Processing bool   `json:"processing"`
	Dispatched uint64 `json:"dispatched"`
}

// Invoke is a unit of queued work. The dispatcher calls it at most once.
type Invoke func(ctx context.Context) (any, error)

type outcome struct {
	value any
	err   error
}

type item struct {
	invoke     Invoke
	result     chan outcome // buffered; the drain loop never blocks on settlement
	enqueuedAt time.Time
}

// Dispatcher drains a FIFO queue of pending invocations at a throttled rate.
type Dispatcher struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	queue      []*item
	processing bool
	inFlight   int
	dispatched uint64
}

// New constructs a dispatcher. The logger may be nil, in which case
// slog.Default() is used.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  logger,
	}
}

// Enqueue appends fn to the queue and suspends until that specific item is
// dispatched and settled. The error returned is exactly the error produced by
// fn, untouched by the dispatcher.
//
// Cancelling ctx abandons the wait but does not remove the item from the
// queue; it will still be dispatched in order. Queued items cannot be
// cancelled in the current design.
func (d *Dispatcher) Enqueue(ctx context.Context, fn Invoke) (any, error) {
	it := &item{
		invoke:     fn,
		result:     make(chan outcome, 1),
		enqueuedAt: time.Now(),
	}

	d.mu.Lock()
	d.queue = append(d.queue, it)
	if !d.processing {
		d.processing = true
		go d.drain()
	}
	d.mu.Unlock()

	select {
	case out := <-it.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Enqueue.
func Do[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := d.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("dispatch: unexpected result type %T", value)
	}
	return typed, nil
}

// Stats reports current queue depth and drain state.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		QueueDepth: len(d.queue),
		InFlight:   d.inFlight,
		Processing: d.processing,
		Dispatched: d.dispatched,
	}
}

// drain is the single logical owner of the queue while processing is true.
// It pops items in enqueue order, paces each dispatch through the limiter,
// and settles every item independently.
func (d *Dispatcher) drain() {
	defer func() {
		if r := recover(); r != nil {
			// The loop itself must never wedge the dispatcher. Reset to
			// idle so a future enqueue restarts it.
			d.logger.Error("Dispatcher drain loop panicked", "panic", fmt.Sprintf("%v", r))
			d.mu.Lock()
			d.processing = false
			d.inFlight = 0
			d.mu.Unlock()
		}
	}()

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		it := d.queue[0]
		d.queue = d.queue[1:]
		d.inFlight = 1
		d.mu.Unlock()

		// Queued items have no cancellation path, so pacing waits on the
		// background context.
		if err := d.limiter.Wait(context.Background()); err != nil {
			it.result <- outcome{err: fmt.Errorf("dispatch: rate limiter: %w", err)}
		} else {
			d.dispatchOne(it)
		}

		d.mu.Lock()
		d.inFlight = 0
		d.dispatched++
		d.mu.Unlock()
	}
}

// dispatchOne invokes a single item, converting a panic inside the invocation
// into that item's error so the loop keeps draining.
func (d *Dispatcher) dispatchOne(it *item) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Queued invocation panicked", "panic", fmt.Sprintf("%v", r))
			it.result <- outcome{err: fmt.Errorf("dispatch: invocation panicked: %v", r)}
		}
	}()

	value, err := it.invoke(context.Background())
	it.result <- outcome{value: value, err: err}
}
