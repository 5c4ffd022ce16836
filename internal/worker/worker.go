// Package worker runs handlers over a shared, growable queue with bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-rag-crawler/internal/metrics"
)

// DefaultPollInterval is how long an idle worker waits before re-checking the queue.
const DefaultPollInterval = 50 * time.Millisecond

// Queue is the subset of a FIFO the pool consumes. Handlers may push to the
// same queue while the pool is running.
type Queue[T any] interface {
	Pop() (T, bool)
}

// Handler processes a single item.
type Handler[T any] func(ctx context.Context, item T) error

type options struct {
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option customizes Spawn and Map.
type Option func(*options)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger used to report item failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{pollInterval: DefaultPollInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type pool[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	opts    options

	mu     sync.Mutex
	active int
}

// Spawn starts up to concurrency workers that drain q. Item failures and
// panics are logged and swallowed. Spawn returns once the queue is empty and
// no worker is busy, or when ctx is cancelled, in which case it returns ctx.Err().
func Spawn[T any](ctx context.Context, q Queue[T], handler Handler[T], concurrency int, opts ...Option) error {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &pool[T]{queue: q, handler: handler, opts: buildOptions(opts)}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("worker pool stopped: %w", err)
	}
	return nil
}

// next pops an item and marks the caller active in one step so a sibling
// never observes an empty queue with zero active workers while work is in flight.
func (p *pool[T]) next() (item T, ok bool, drained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok = p.queue.Pop()
	if ok {
		p.active++
		return item, true, false
	}
	return item, false, p.active == 0
}

func (p *pool[T]) done() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *pool[T]) loop(ctx context.Context, id int) {
	timer := time.NewTimer(p.opts.pollInterval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok, drained := p.next()
		if drained {
			return
		}
		if !ok {
			timer.Reset(p.opts.pollInterval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}
		metrics.IncActiveWorkers()
		p.invoke(ctx, id, item)
		metrics.DecActiveWorkers()
		p.done()
	}
}

func (p *pool[T]) invoke(ctx context.Context, id int, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.opts.logger.Error("worker handler panicked",
				zap.Int("worker", id),
				zap.Any("item", item),
				zap.Any("panic", r),
			)
		}
	}()
	if err := p.handler(ctx, item); err != nil {
		p.opts.logger.Warn("worker handler failed",
			zap.Int("worker", id),
			zap.Any("item", item),
			zap.Error(err),
		)
	}
}

// Map runs fn over a fixed list with at most limit calls in flight. Per-item
// failures are logged and never stop the remaining items.
func Map[T any](ctx context.Context, items []T, fn Handler[T], limit int, opts ...Option) {
	o := buildOptions(opts)
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("map handler panicked", zap.Int("index", i), zap.Any("panic", r))
				}
			}()
			if err := fn(gctx, item); err != nil {
				o.logger.Warn("map handler failed", zap.Int("index", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
