package results

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/mcroute/internal/metrics"
	"github.com/gyaneshwarpardhi/mcroute/internal/state"
	"github.com/gyaneshwarpardhi/mcroute/internal/workpool"
)

// Async decouples routing from a slow sink. Snapshots queue up to a fixed
// capacity and a single worker writes them in order; when the queue is full
// Write blocks. The first write error is returned by every later Write and by
// Close.
type Async struct {
	inner Sink
	pool  *workpool.Pool[*state.Snapshot]

	mu  sync.Mutex
	err error
}

// NewAsync wraps inner with a queue of the given capacity.
func NewAsync(inner Sink, capacity int) *Async {
	a := &Async{inner: inner}
	a.pool = workpool.New(context.Background(), 1, capacity, a.write)
	return a
}

func (a *Async) write(ctx context.Context, s *state.Snapshot) error {
	if a.failed() != nil {
		return nil
	}
	if err := a.inner.Write(ctx, s); err != nil {
		slog.Error("result sink write failed", "step", s.Step, "error", err)
		a.mu.Lock()
		if a.err == nil {
			a.err = err
		}
		a.mu.Unlock()
	}
	a.observe()
	return nil
}

func (a *Async) failed() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Async) observe() {
	if c := a.pool.QueueCap(); c > 0 {
		metrics.SinkQueueUtilization.Set(float64(a.pool.QueueLen()) / float64(c))
	}
}

func (a *Async) Write(ctx context.Context, s *state.Snapshot) error {
	if err := a.failed(); err != nil {
		return err
	}
	if err := a.pool.SubmitWait(ctx, s); err != nil {
		return err
	}
	a.observe()
	return nil
}

// Unwrap returns the wrapped sink.
func (a *Async) Unwrap() Sink { return a.inner }

// Close flushes queued snapshots and closes the wrapped sink.
func (a *Async) Close() error {
	a.pool.Drain()
	metrics.SinkQueueUtilization.Set(0)
	cerr := a.inner.Close()
	if err := a.failed(); err != nil {
		return err
	}
	return cerr
}

// Projection forwards only the reaches at the given snapshot positions.
type Projection struct {
	inner Sink
	idx   []int
}

// NewProjection restricts inner to positions idx; a nil idx forwards every
// reach unchanged.
func NewProjection(inner Sink, idx []int) *Projection {
	return &Projection{inner: inner, idx: idx}
}

func (p *Projection) Write(ctx context.Context, s *state.Snapshot) error {
	if p.idx == nil {
		return p.inner.Write(ctx, s)
	}
	return p.inner.Write(ctx, s.Project(p.idx))
}

func (p *Projection) Close() error { return p.inner.Close() }

// Unwrap returns the wrapped sink.
func (p *Projection) Unwrap() Sink { return p.inner }

// FindMemory walks a chain of wrapping sinks and returns the in-memory sink
// at its end, if there is one.
func FindMemory(s Sink) (*Memory, bool) {
	for s != nil {
		if m, ok := s.(*Memory); ok {
			return m, true
		}
		u, ok := s.(interface{ Unwrap() Sink })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}
