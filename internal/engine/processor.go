package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/mc"
	"github.com/gyaneshwarpardhi/mcroute/internal/metrics"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
	"github.com/gyaneshwarpardhi/mcroute/internal/state"
	"github.com/gyaneshwarpardhi/mcroute/internal/workpool"
)

// RoutingError reports a reach whose kernel call failed. Step and Substep are
// set by the driver.
type RoutingError struct {
	Reach   string
	Step    int
	Substep int
	Err     error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing reach %q at step %d (substep %d): %v", e.Reach, e.Step, e.Substep, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// ProcessorOptions tunes level scheduling.
type ProcessorOptions struct {
	// Workers is the number of goroutines routing a level; 1 routes serially.
	Workers int
	// ParallelThreshold is the smallest level worth splitting across workers.
	ParallelThreshold int
	Logger            *slog.Logger
}

// chunk is a contiguous run of ranks from one level.
type chunk struct {
	ranks []int
	ns    *state.NetworkState
	dt    float64
	tally *tally
}

// tally counts kernel outcomes for one chunk so that workers never contend
// on shared counters.
type tally struct {
	evals, nonConverged int
	degenerate          map[mc.Degeneracy]int
	err                 *RoutingError
}

// Processor routes one sub-step over the whole network, level by level.
// Reaches within a level are independent and may run concurrently; each level
// waits for the previous one.
type Processor struct {
	topo      *network.Topology
	params    *channel.Store
	log       *slog.Logger
	pool      *workpool.Pool[chunk]
	threshold int
	// plan holds each level already split into worker-sized chunks.
	plan [][][]int
}

// NewProcessor prepares the level plan and, for more than one worker, starts
// the worker pool. The workers live until Close, whatever happens to ctx.
func NewProcessor(ctx context.Context, topo *network.Topology, params *channel.Store, opts ProcessorOptions) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ParallelThreshold < 1 {
		opts.ParallelThreshold = 1
	}
	p := &Processor{
		topo:      topo,
		params:    params,
		log:       opts.Logger,
		threshold: opts.ParallelThreshold,
	}
	for _, level := range topo.Levels() {
		p.plan = append(p.plan, split(level, opts.Workers))
	}
	if opts.Workers > 1 {
		p.pool = workpool.New(context.WithoutCancel(ctx), opts.Workers, opts.Workers, p.runChunk)
	}
	return p
}

// split divides ranks into at most n contiguous chunks of near-equal size.
func split(ranks []int, n int) [][]int {
	if n > len(ranks) {
		n = len(ranks)
	}
	if n <= 1 {
		return [][]int{ranks}
	}
	out := make([][]int, 0, n)
	size, extra := len(ranks)/n, len(ranks)%n
	for i, start := 0, 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		out = append(out, ranks[start:end:end])
		start = end
	}
	return out
}

// Close stops the worker pool.
func (p *Processor) Close() {
	if p.pool != nil {
		p.pool.Drain()
	}
}

// Step routes every reach for one sub-step of dt seconds, writing the
// current buffer of ns. The previous buffer and the lateral inflows must be
// in place. On a kernel failure the failing level is finished, every later
// reach is marked skipped, and the failure with the lowest rank is returned.
// ctx is only checked before routing starts: a started sub-step always
// completes, so ns is never left half-written.
func (p *Processor) Step(ctx context.Context, ns *state.NetworkState, dt float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	total := &tally{degenerate: make(map[mc.Degeneracy]int)}
	defer p.record(total)

	for li, level := range p.plan {
		var err error
		if p.pool == nil || len(p.topo.Levels()[li]) < p.threshold {
			err = p.runSerial(level, ns, dt, total)
		} else {
			err = p.runParallel(ctx, level, ns, dt, total)
		}
		if err != nil {
			p.skipFrom(li+1, ns)
			return err
		}
	}
	return nil
}

func (p *Processor) runSerial(level [][]int, ns *state.NetworkState, dt float64, total *tally) error {
	for _, ranks := range level {
		p.route(chunk{ranks: ranks, ns: ns, dt: dt, tally: total})
	}
	if total.err != nil {
		return total.err
	}
	return nil
}

func (p *Processor) runParallel(ctx context.Context, level [][]int, ns *state.NetworkState, dt float64, total *tally) error {
	chunks := make([]chunk, len(level))
	for i, ranks := range level {
		chunks[i] = chunk{ranks: ranks, ns: ns, dt: dt, tally: &tally{degenerate: make(map[mc.Degeneracy]int)}}
	}
	// RunBatch waits for every queued chunk, but a chunk never queued has an
	// empty tally, so only routing errors are merged.
	err := p.pool.RunBatch(ctx, chunks)
	var re *RoutingError
	if err != nil && !errors.As(err, &re) {
		return err
	}
	for _, c := range chunks {
		total.merge(c.tally)
	}
	if re != nil {
		return re
	}
	return nil
}

func (p *Processor) runChunk(_ context.Context, c chunk) error {
	p.route(c)
	if c.tally.err != nil {
		return c.tally.err
	}
	return nil
}

// route computes every reach in c. A failing reach is recorded and the rest
// of the chunk still runs.
func (p *Processor) route(c chunk) {
	for _, r := range c.ranks {
		inflow := p.inflow(c.ns, r)
		prev := c.ns.Prev(r)
		res, err := mc.Route(mc.Input{
			InflowPrev:  prev.Inflow,
			InflowNow:   inflow,
			OutflowPrev: prev.Outflow,
			DepthPrev:   prev.Depth,
		}, p.params.At(r), c.dt)
		c.tally.evals++
		if err != nil {
			c.ns.Fail(r)
			if c.tally.err == nil {
				c.tally.err = &RoutingError{Reach: p.topo.At(r).ID, Err: err}
			}
			continue
		}
		if res.Degeneracy != mc.None {
			c.tally.degenerate[res.Degeneracy]++
			if res.Degeneracy != mc.LowFlow {
				p.log.Debug("degenerate kernel case", "reach", p.topo.At(r).ID, "reason", string(res.Degeneracy), "inflow", inflow)
			}
		}
		if !res.Converged {
			c.tally.nonConverged++
			p.log.Warn("depth solve did not converge", "reach", p.topo.At(r).ID, "iterations", res.Iterations, "depth", res.Depth)
		}
		c.ns.Set(r, state.RoutingState{Inflow: inflow, Outflow: res.Outflow, Depth: res.Depth}, res.Velocity)
	}
}

// inflow sums the current outflows of r's upstream reaches in rank order, then
// adds r's lateral inflow. The fixed order keeps results independent of
// scheduling.
func (p *Processor) inflow(ns *state.NetworkState, r int) float64 {
	q := 0.0
	for _, u := range p.topo.Upstream(r) {
		q += ns.Outflow(u)
	}
	return q + ns.Lateral(r)
}

func (p *Processor) skipFrom(level int, ns *state.NetworkState) {
	levels := p.topo.Levels()
	for li := level; li < len(levels); li++ {
		for _, r := range levels[li] {
			ns.Skip(r)
		}
	}
}

func (t *tally) merge(o *tally) {
	t.evals += o.evals
	t.nonConverged += o.nonConverged
	for k, v := range o.degenerate {
		t.degenerate[k] += v
	}
	if t.err == nil {
		t.err = o.err
	}
}

func (p *Processor) record(t *tally) {
	metrics.ReachEvaluations.Add(float64(t.evals))
	metrics.NonConverged.Add(float64(t.nonConverged))
	for k, v := range t.degenerate {
		metrics.Degeneracies.WithLabelValues(string(k)).Add(float64(v))
	}
	if t.err != nil {
		metrics.RoutingFailures.Inc()
	}
}
