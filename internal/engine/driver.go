package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/mcroute/internal/forcing"
	"github.com/gyaneshwarpardhi/mcroute/internal/metrics"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
	"github.com/gyaneshwarpardhi/mcroute/internal/results"
	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

// DriverConfig fixes a run's time axis.
type DriverConfig struct {
	Start time.Time
	// Interval is the forcing step; each step is routed in Substeps equal
	// sub-steps.
	Interval time.Duration
	Substeps int
	// Steps is the number of forcing steps; 0 takes the length of the source.
	Steps int
}

// SubstepSeconds returns the routing sub-step length in seconds.
func (c DriverConfig) SubstepSeconds() float64 {
	return c.Interval.Seconds() / float64(c.Substeps)
}

func (c DriverConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("forcing interval must be positive, got %v", c.Interval)
	}
	if c.Substeps < 1 {
		return fmt.Errorf("substeps must be at least 1, got %d", c.Substeps)
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps must not be negative, got %d", c.Steps)
	}
	return nil
}

// Summary describes a finished or halted run.
type Summary struct {
	RunID    string        `json:"run_id"`
	Steps    int           `json:"steps"`      // forcing steps requested
	Done     int           `json:"steps_done"` // forcing steps emitted
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"` // simulated time reached
	Elapsed  time.Duration `json:"elapsed_ns"`
	Reaches  int           `json:"reaches"`
	Substeps int           `json:"substeps"`
}

// CancelledError reports a run halted at a step boundary. Step is the first
// step not routed; every earlier step was written.
type CancelledError struct {
	Step int
	Err  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled before step %d: %v", e.Step, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Driver advances a network through time.
type Driver struct {
	topo *network.Topology
	proc *Processor
	cfg  DriverConfig
	log  *slog.Logger
}

// NewDriver returns a driver that routes with proc over topo.
func NewDriver(topo *network.Topology, proc *Processor, cfg DriverConfig, log *slog.Logger) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{topo: topo, proc: proc, cfg: cfg, log: log}, nil
}

// Run routes every forcing step, writing one snapshot per step to sink. It
// stops at the first error; snapshots already written stay valid. The state
// ns is advanced in place, so a later Run continues from where this one
// stopped. Cancelling ctx halts the run at the next step boundary: a step
// already begun is routed and written in full.
func (d *Driver) Run(ctx context.Context, runID string, ns *state.NetworkState, src forcing.Source, sink results.Sink) (sum Summary, err error) {
	sum = Summary{RunID: runID, Start: d.cfg.Start, End: d.cfg.Start, Reaches: d.topo.Len(), Substeps: d.cfg.Substeps}
	began := time.Now()

	ctx, span := otel.Tracer("mcroute").Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("reaches", d.topo.Len()),
			attribute.Int("substeps", d.cfg.Substeps),
		),
	)
	defer func() {
		sum.Elapsed = time.Since(began)
		span.SetAttributes(attribute.Int("steps_done", sum.Done))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run halted")
		}
		span.End()
	}()

	if ns.Len() != d.topo.Len() {
		return sum, fmt.Errorf("state holds %d reaches, network has %d", ns.Len(), d.topo.Len())
	}
	steps, err := d.stepCount(src)
	if err != nil {
		return sum, err
	}
	sum.Steps = steps
	span.SetAttributes(attribute.Int("steps", steps))
	d.log.Info("run started", "run_id", runID, "reaches", d.topo.Len(), "steps", steps, "substeps", d.cfg.Substeps)

	var (
		n       = d.topo.Len()
		ids     = d.topo.Order()
		dt      = d.cfg.SubstepSeconds()
		lateral = make([]float64, n)
		volOut  = make([]float64, n)
		volIn   = make([]float64, n)
	)
	stepCtx := context.WithoutCancel(ctx)
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return sum, &CancelledError{Step: step, Err: err}
		}
		t0 := time.Now()
		if err := forcing.Fill(src, ids, step, lateral); err != nil {
			return sum, err
		}
		for i, q := range lateral {
			ns.SetLateral(i, q)
			volOut[i], volIn[i] = 0, 0
		}

		for sub := 0; sub < d.cfg.Substeps; sub++ {
			if err := d.proc.Step(stepCtx, ns, dt); err != nil {
				var re *RoutingError
				if errors.As(err, &re) {
					re.Step, re.Substep = step, sub
				}
				return sum, err
			}
			for i := 0; i < n; i++ {
				cur := ns.Current(i)
				volOut[i] += cur.Outflow * dt
				volIn[i] += cur.Inflow * dt
			}
			ns.Swap()
		}
		metrics.StepsRouted.Add(float64(d.cfg.Substeps))

		snap := d.snapshot(runID, step, ns, lateral, volOut, volIn)
		if err := sink.Write(stepCtx, snap); err != nil {
			return sum, fmt.Errorf("write step %d: %w", step, err)
		}
		sum.Done = step + 1
		sum.End = snap.Time
		metrics.StepDuration.Observe(float64(time.Since(t0).Microseconds()) / 1000)
	}
	d.log.Info("run finished", "run_id", runID, "steps", sum.Done, "elapsed", time.Since(began))
	return sum, nil
}

func (d *Driver) stepCount(src forcing.Source) (int, error) {
	avail := src.Len()
	switch {
	case d.cfg.Steps == 0 && avail < 0:
		return 0, fmt.Errorf("step count required: forcing source is unbounded")
	case d.cfg.Steps == 0:
		return avail, nil
	case avail >= 0 && d.cfg.Steps > avail:
		return 0, fmt.Errorf("%w: %d steps requested, source holds %d", forcing.ErrMissingForcing, d.cfg.Steps, avail)
	}
	return d.cfg.Steps, nil
}

// snapshot reports step means over the forcing interval and end-of-step
// depth and velocity. After Swap the finished values are the previous buffer.
func (d *Driver) snapshot(runID string, step int, ns *state.NetworkState, lateral, volOut, volIn []float64) *state.Snapshot {
	n := d.topo.Len()
	secs := d.cfg.Interval.Seconds()
	s := &state.Snapshot{
		RunID:    runID,
		Step:     step,
		Time:     d.cfg.Start.Add(time.Duration(step+1) * d.cfg.Interval),
		Reaches:  d.topo.Order(),
		Outflow:  make([]float64, n),
		Inflow:   make([]float64, n),
		Lateral:  make([]float64, n),
		Volume:   make([]float64, n),
		Depth:    make([]float64, n),
		Velocity: make([]float64, n),
	}
	copy(s.Lateral, lateral)
	copy(s.Volume, volOut)
	for i := 0; i < n; i++ {
		s.Outflow[i] = volOut[i] / secs
		s.Inflow[i] = volIn[i] / secs
		s.Depth[i] = ns.Prev(i).Depth
		s.Velocity[i] = ns.Velocity(i)
	}
	return s
}
