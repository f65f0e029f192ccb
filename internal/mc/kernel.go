// Package mc implements the Muskingum-Cunge routing kernel for one reach and
// one timestep. Everything here is a pure function of its arguments.
package mc

import (
	"errors"
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
)

// Numeric thresholds of the kernel.
const (
	// FlowFloor is the flow (m3/s) at or below which a reach is treated as
	// dry and routed by pure translation.
	FlowFloor = 1e-6
	// MinDepth ends the depth solve once the iterate is shallower (m).
	MinDepth = 0.01
	// RelTolerance and AbsTolerance (m) bound the secant depth solve.
	RelTolerance = 1e-3
	AbsTolerance = 1e-4
	// MaxIterations per try; each further try widens the bracket and
	// allows 25 more iterations.
	MaxIterations = 100
	MaxTries      = 5
)

var (
	ErrNonFinite     = errors.New("non-finite routing result")
	ErrInvalidParams = channel.ErrInvalidParams
)

// Degeneracy names a fallback the kernel took instead of the regular MC step.
type Degeneracy string

const (
	None          Degeneracy = ""
	LowFlow       Degeneracy = "low_flow"
	NoCelerity    Degeneracy = "no_celerity"
	NegativeClamp Degeneracy = "negative_clamp"
)

// Input is the per-call state of one reach.
type Input struct {
	InflowPrev  float64 // total inflow, previous timestep (m3/s)
	InflowNow   float64 // total inflow, current timestep (m3/s)
	OutflowPrev float64 // outflow, previous timestep (m3/s)
	DepthPrev   float64 // solved depth, previous timestep (m); warm start
}

// Coefficients weight current inflow, previous inflow and previous outflow.
type Coefficients struct {
	C0, C1, C2 float64
}

// Translation routes inflow straight through the reach.
var Translation = Coefficients{C0: 1}

// CoefficientsFor derives the routing coefficients from the storage constant
// k (s), the weighting factor x and the timestep dt (s). They sum to one for
// any k, x and dt with a non-zero denominator.
func CoefficientsFor(k, x, dt float64) Coefficients {
	d := k*(1.0-x) + dt/2.0
	return Coefficients{
		C0: (dt/2.0 - k*x) / d,
		C1: (dt/2.0 + k*x) / d,
		C2: (k*(1.0-x) - dt/2.0) / d,
	}
}

// Apply returns C0*inNow + C1*inPrev + C2*outPrev.
func (c Coefficients) Apply(inNow, inPrev, outPrev float64) float64 {
	return c.C0*inNow + c.C1*inPrev + c.C2*outPrev
}

// Sum returns C0 + C1 + C2.
func (c Coefficients) Sum() float64 { return c.C0 + c.C1 + c.C2 }

// Muskingum returns the storage constant k and weighting factor x for a reach
// of length dx with celerity ck, routing width w and reference flow q.
// k is never shorter than dt, which keeps C2 non-negative.
func Muskingum(ck, w, q, slope, dx, dt float64) (k, x float64) {
	if ck <= 0 {
		return dt, 0.5
	}
	k = math.Max(dt, dx/ck)
	x = 0.5
	if w > 0 {
		x = 0.5 * (1.0 - q/(2.0*w*slope*ck*dx))
	}
	return k, math.Min(0.5, math.Max(0, x))
}

// Result is the outcome of one kernel call.
type Result struct {
	Outflow      float64
	Depth        float64
	Velocity     float64
	Celerity     float64
	K, X         float64
	Coefficients Coefficients
	Iterations   int
	Converged    bool
	Degeneracy   Degeneracy
}

// step holds everything derived from one trial depth.
type step struct {
	geom     Geometry
	celerity float64
	k, x     float64
	coef     Coefficients
	mc       float64 // MC outflow at this depth
	residual float64 // MC outflow minus Manning flow
}

// Route computes the outflow of one reach for one timestep of dt seconds.
//
// The depth is solved with the secant method so that the Muskingum-Cunge
// outflow, whose coefficients depend on the celerity at that depth, matches
// Manning's normal flow. The outflow is never negative.
func Route(in Input, p *channel.Params, dt float64) (Result, error) {
	if err := checkArgs(in, p, dt); err != nil {
		return Result{}, err
	}

	if in.InflowNow <= FlowFloor && in.InflowPrev <= FlowFloor && in.OutflowPrev <= FlowFloor {
		return Result{
			Outflow:      math.Max(in.InflowNow, 0),
			Coefficients: Translation,
			Converged:    true,
			Degeneracy:   LowFlow,
		}, nil
	}

	s := newSection(p)
	qref := (in.InflowPrev + in.InflowNow + in.OutflowPrev) / 3.0
	eval := func(h float64) step {
		g := s.at(h)
		st := step{geom: g, celerity: s.celerity(g)}
		if st.celerity > 0 {
			st.k, st.x = Muskingum(st.celerity, s.routingWidth(g), qref, p.Slope, p.Length, dt)
			st.coef = CoefficientsFor(st.k, st.x, dt)
		} else {
			st.k, st.x = dt, 0.5
			st.coef = Translation
		}
		st.mc = st.coef.Apply(in.InflowNow, in.InflowPrev, in.OutflowPrev)
		st.residual = st.mc - s.manningFlow(g)
		return st
	}

	depth := math.Max(in.DepthPrev, 0)
	h0, h1 := depth*0.67, depth*1.33+MinDepth
	cur := eval(h1)
	iters, limit, converged := 0, MaxIterations, false

	for try := 0; try < MaxTries && !converged; try++ {
		prev := eval(h0)
		for n := 0; n < limit; n++ {
			df := cur.residual - prev.residual
			if df == 0 {
				converged = cur.residual == 0
				break
			}
			h2 := h1 - cur.residual*(h1-h0)/df
			switch {
			case h2 < 0 || math.IsNaN(h2):
				h2 = h1 / 2.0
			case math.IsInf(h2, 0) || h2 > 100*(h1+MinDepth):
				h2 = 2.0*h1 + MinDepth
			}
			aerr := math.Abs(h2 - h1)
			rerr := aerr
			if h1 > 0 {
				rerr = aerr / h1
			}
			h0, prev = h1, cur
			h1, cur = h2, eval(h2)
			iters++
			if rerr <= RelTolerance || aerr <= AbsTolerance || h1 < MinDepth {
				converged = true
				break
			}
		}
		if !converged {
			h1 *= 1.33
			h0 *= 0.67
			cur = eval(h1)
			limit += 25
		}
	}

	res := Result{
		Outflow:      cur.mc,
		Depth:        h1,
		Velocity:     s.velocity(h1),
		Celerity:     cur.celerity,
		K:            cur.k,
		X:            cur.x,
		Coefficients: cur.coef,
		Iterations:   iters,
		Converged:    converged,
	}
	if cur.celerity <= 0 {
		res.Degeneracy = NoCelerity
	}
	if res.Outflow < 0 {
		res.Outflow = 0
		res.Degeneracy = NegativeClamp
	}
	if !finite(res.Outflow, res.Depth, res.Velocity, res.Coefficients.C0, res.Coefficients.C1, res.Coefficients.C2) {
		return res, fmt.Errorf("%w: outflow=%g depth=%g", ErrNonFinite, res.Outflow, res.Depth)
	}
	return res, nil
}

func checkArgs(in Input, p *channel.Params, dt float64) error {
	if p == nil {
		return fmt.Errorf("%w: nil parameters", ErrInvalidParams)
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: timestep must be positive and finite, got %g", ErrInvalidParams, dt)
	}
	if p.Manning <= 0 || p.Slope <= 0 || p.BottomWidth <= 0 || p.Length <= 0 ||
		!finite(p.Manning, p.Slope, p.BottomWidth, p.Length, p.TopWidth, p.TopWidthCC, p.ManningCC, p.SideSlope) {
		return fmt.Errorf("%w: n=%g slope=%g bottom_width=%g length=%g",
			ErrInvalidParams, p.Manning, p.Slope, p.BottomWidth, p.Length)
	}
	if p.TopWidthCC > 0 && p.ManningCC <= 0 {
		return fmt.Errorf("%w: n_cc must be positive with a compound channel", ErrInvalidParams)
	}
	if !finite(in.InflowPrev, in.InflowNow, in.OutflowPrev, in.DepthPrev) {
		return fmt.Errorf("%w: input inflow=%g/%g outflow=%g", ErrNonFinite, in.InflowPrev, in.InflowNow, in.OutflowPrev)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
