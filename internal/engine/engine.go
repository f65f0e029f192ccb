package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/metrics"
	"github.com/gyaneshwarpardhi/mcroute/internal/results"
	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

var (
	// ErrBusy means the configured number of concurrent runs is reached.
	ErrBusy = errors.New("too many runs in progress")
	// ErrRunNotFound means no run has the given ID.
	ErrRunNotFound = errors.New("run not found")
	// ErrNotReady means no network has been loaded yet.
	ErrNotReady = errors.New("no network loaded")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunOptions override the setup for a single run.
type RunOptions struct {
	Steps int `json:"steps,omitempty"`
}

// RunInfo is a point-in-time view of a run.
type RunInfo struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    Summary    `json:"summary"`
	Error      string     `json:"error,omitempty"`
	// FailedReach and FailedStep identify a routing failure.
	FailedReach string `json:"failed_reach,omitempty"`
	FailedStep  *int   `json:"failed_step,omitempty"`
}

// Run is one simulation, in progress or finished.
type Run struct {
	ID      string
	seq     uint64
	created time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	status   RunStatus
	finished time.Time
	summary  Summary
	err      error
	memory   *results.Memory
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the error that halted the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Memory returns the in-memory results of a run using memory output.
func (r *Run) Memory() (*results.Memory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory, r.memory != nil
}

// Info returns a snapshot of the run's state.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RunInfo{ID: r.ID, Status: r.status, CreatedAt: r.created, Summary: r.summary}
	if !r.finished.IsZero() {
		t := r.finished
		info.FinishedAt = &t
	}
	if r.err != nil {
		info.Error = r.err.Error()
		var re *RoutingError
		if errors.As(r.err, &re) {
			step := re.Step
			info.FailedReach, info.FailedStep = re.Reach, &step
		}
	}
	return info
}

func (r *Run) finish(sum Summary, err error) RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary, r.err, r.finished = sum, err, time.Now()
	switch {
	case err == nil:
		r.status = RunSucceeded
	case errors.Is(err, context.Canceled):
		r.status = RunCancelled
	default:
		r.status = RunFailed
	}
	close(r.done)
	return r.status
}

// Engine starts and tracks simulation runs against the current setup.
type Engine struct {
	setup    atomic.Pointer[Setup]
	reloadMu sync.Mutex
	ctx      context.Context
	log      *slog.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	seq    uint64
	active int
	wg     sync.WaitGroup
}

// New creates an Engine. Background runs are cancelled when ctx is. setup
// may be nil until a network is loaded.
func New(ctx context.Context, setup *Setup, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{ctx: ctx, log: log, runs: make(map[string]*Run)}
	if setup != nil {
		e.setup.Store(setup)
	}
	return e
}

// SwapSetup atomically replaces the setup (used on hot-reload). Runs in
// progress keep the setup they started with.
func (e *Engine) SwapSetup(s *Setup) {
	e.setup.Store(s)
}

// Reload builds a setup from cfg and makes it current. Reloading the config
// that produced the current setup returns that setup unchanged.
func (e *Engine) Reload(ctx context.Context, cfg *config.Config) (*Setup, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	if cur := e.setup.Load(); cur != nil && cur.Config == cfg {
		return cur, nil
	}
	s, err := NewSetup(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.setup.Store(s)
	e.log.Info("network reloaded", "source", s.Network.Source, "reaches", s.Network.Topology.Len())
	return s, nil
}

// Setup returns the current setup, or nil.
func (e *Engine) Setup() *Setup { return e.setup.Load() }

// Ready reports whether runs can be started.
func (e *Engine) Ready() bool { return e.setup.Load() != nil }

// Start launches a run in the background.
func (e *Engine) Start(opts RunOptions) (*Run, error) {
	s, run, ctx, err := e.admit(e.ctx)
	if err != nil {
		return nil, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(ctx, s, run, opts)
	}()
	return run, nil
}

// RunSync runs a simulation to completion in the calling goroutine.
func (e *Engine) RunSync(ctx context.Context, opts RunOptions) (*Run, error) {
	s, run, ctx, err := e.admit(ctx)
	if err != nil {
		return nil, err
	}
	e.execute(ctx, s, run, opts)
	return run, run.Err()
}

func (e *Engine) admit(parent context.Context) (*Setup, *Run, context.Context, error) {
	s := e.setup.Load()
	if s == nil {
		return nil, nil, nil, ErrNotReady
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.MaxRuns > 0 && e.active >= s.MaxRuns {
		return nil, nil, nil, fmt.Errorf("%w (limit %d)", ErrBusy, s.MaxRuns)
	}
	ctx, cancel := context.WithCancel(parent)
	e.seq++
	run := &Run{
		ID:      uuid.NewString(),
		seq:     e.seq,
		created: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  RunRunning,
	}
	e.runs[run.ID] = run
	e.active++
	metrics.RunsActive.Inc()
	return s, run, ctx, nil
}

func (e *Engine) execute(ctx context.Context, s *Setup, run *Run, opts RunOptions) {
	sum, err := e.simulate(ctx, s, run, opts)
	run.cancel()

	// Release the slot before announcing completion so that a caller woken
	// by Done can start the next run.
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	metrics.RunsActive.Dec()
	status := run.finish(sum, err)
	metrics.Runs.WithLabelValues(string(status)).Inc()

	if err != nil {
		e.log.Error("run halted", "run_id", run.ID, "status", status, "steps_done", sum.Done, "error", err)
	}
}

func (e *Engine) simulate(ctx context.Context, s *Setup, run *Run, opts RunOptions) (Summary, error) {
	net := s.Network
	src, err := s.Forcing(ctx, net)
	if err != nil {
		return Summary{RunID: run.ID}, fmt.Errorf("open forcing: %w", err)
	}
	sink, err := s.Output(run.ID, net)
	if err != nil {
		return Summary{RunID: run.ID}, fmt.Errorf("open output: %w", err)
	}
	if m, ok := results.FindMemory(sink); ok {
		run.mu.Lock()
		run.memory = m
		run.mu.Unlock()
	}

	dc := s.Driver
	if opts.Steps > 0 {
		dc.Steps = opts.Steps
	}
	po := s.Processor
	po.Logger = e.log.With("run_id", run.ID)
	proc := NewProcessor(ctx, net.Topology, net.Params, po)
	defer proc.Close()

	drv, err := NewDriver(net.Topology, proc, dc, po.Logger)
	if err != nil {
		sink.Close()
		return Summary{RunID: run.ID}, err
	}
	sum, err := drv.Run(ctx, run.ID, state.New(net.Topology.Len()), src, sink)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return sum, err
}

// Get returns a run by ID.
func (e *Engine) Get(id string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	return r, ok
}

// List returns every known run, oldest first.
func (e *Engine) List() []RunInfo {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].seq < runs[j].seq })
	out := make([]RunInfo, len(runs))
	for i, r := range runs {
		out[i] = r.Info()
	}
	return out
}

// Cancel asks a run to stop at its next step boundary.
func (e *Engine) Cancel(id string) error {
	r, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	r.cancel()
	return nil
}

// ActiveRuns returns the number of runs in progress.
func (e *Engine) ActiveRuns() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Wait blocks until every background run has finished.
func (e *Engine) Wait() { e.wg.Wait() }
