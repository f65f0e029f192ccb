// Package workpool provides a fixed-size goroutine pool with a bounded input
// queue, used both for level-parallel routing and for buffered result writing.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when submitting to a drained pool.
var ErrClosed = errors.New("worker pool closed")

// job is the unit of work dispatched to a worker. Jobs that belong to a batch
// report back through it.
type job[T any] struct {
	payload T
	batch   *batch
	index   int
}

type batch struct {
	wg      sync.WaitGroup
	pending atomic.Int64
	errs    []error
}

func (b *batch) add() {
	b.wg.Add(1)
	b.pending.Add(1)
}

func (b *batch) done() {
	b.pending.Add(-1)
	b.wg.Done()
}

// Pool runs process on every submitted payload using n goroutines.
type Pool[T any] struct {
	queue   chan job[T]
	process func(ctx context.Context, t T) error
	wg      sync.WaitGroup
	// stopped is closed once every worker has exited.
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates and starts a pool with n goroutines and queue capacity cap.
// Workers stop when ctx is cancelled or the pool is drained.
func New[T any](ctx context.Context, n, cap int, fn func(context.Context, T) error) *Pool[T] {
	if n < 1 {
		n = 1
	}
	if cap < 0 {
		cap = 0
	}
	p := &Pool[T]{
		queue:   make(chan job[T], cap),
		process: fn,
		stopped: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.stopped)
	}()
	return p
}

func (p *Pool[T]) run(ctx context.Context) {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			err := p.process(ctx, j.payload)
			if j.batch != nil {
				j.batch.errs[j.index] = err
				j.batch.done()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a job without blocking (returns false if full or closed).
func (p *Pool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job[T]{payload: t}:
		return true
	default:
		return false
	}
}

// SubmitWait enqueues a job, blocking while the queue is full.
func (p *Pool[T]) SubmitWait(ctx context.Context, t T) error {
	return p.enqueue(ctx, job[T]{payload: t})
}

func (p *Pool[T]) enqueue(ctx context.Context, j job[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- j:
		return nil
	case <-p.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunBatch processes every item and returns once all of them have finished,
// which makes each call a barrier. The returned error is the first non-nil
// error in item order. ctx only bounds enqueueing: items already queued are
// always waited for, so no worker still holds an item when RunBatch returns.
// If the workers stop first, RunBatch returns ErrClosed.
func (p *Pool[T]) RunBatch(ctx context.Context, items []T) error {
	b := &batch{errs: make([]error, len(items))}
	for i, it := range items {
		b.add()
		if err := p.enqueue(ctx, job[T]{payload: it, batch: b, index: i}); err != nil {
			b.done()
			if werr := p.await(b); werr != nil {
				return werr
			}
			return err
		}
	}
	if err := p.await(b); err != nil {
		return err
	}
	for _, err := range b.errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool[T]) await(b *batch) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-p.stopped:
		if b.pending.Load() == 0 {
			return nil
		}
		return ErrClosed
	}
}

// Drain closes the queue and waits for all workers to finish.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *Pool[T]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *Pool[T]) QueueCap() int {
	return cap(p.queue)
}
