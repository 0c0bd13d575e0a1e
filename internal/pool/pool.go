// Package pool provides the bounded worker pool shared by every composition
// running in the process. Callers submit fan-out batches with Map and block
// until the whole batch has finished.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/ffanime/internal/metrics"
)

// ErrClosed is returned when work is submitted after Drain or Close.
var ErrClosed = errors.New("worker pool is closed")

// DefaultSize is one worker per logical core, minus one, and never less than one.
func DefaultSize() int {
	return max(1, runtime.NumCPU()-1)
}

// Pool bounds how many work items run at once across all callers.
type Pool struct {
	size int
	sem  *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a pool with size slots. A non-positive size means DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	return &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn while holding one slot. It waits for a free slot or for ctx to
// be done, whichever comes first.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !p.enter() {
		return ErrClosed
	}
	defer p.inflight.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	metrics.PoolBusyWorkers.Inc()
	defer func() {
		metrics.PoolBusyWorkers.Dec()
		p.sem.Release(1)
	}()

	return fn(ctx)
}

func (p *Pool) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// Drain stops accepting work and waits until everything already submitted
// has finished, or until ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	p.Close()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}

// Close stops accepting work without waiting.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Map runs fn for every item on p and returns the results in input order,
// whatever order they complete in. The first error cancels the context seen
// by the remaining items and is returned once all of them have stopped.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			return p.Do(gctx, func(ctx context.Context) error {
				r, err := fn(ctx, i, item)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
