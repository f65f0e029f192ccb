// Package state holds the per-reach values carried between timesteps.
package state

import (
	"fmt"
	"math"
	"time"
)

// RoutingState is one reach's values at the end of a timestep.
type RoutingState struct {
	Inflow  float64 `json:"inflow"`  // m3/s
	Outflow float64 `json:"outflow"` // m3/s
	Depth   float64 `json:"depth"`   // m
}

// Status records how a reach fared in the current timestep.
type Status uint8

const (
	StatusOK Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// NetworkState is the state of every reach, indexed by topology rank.
//
// It keeps two buffers: prev holds the last completed timestep and is only
// read during a step; cur is written once per reach by the task routing that
// reach. Swap promotes cur to prev.
type NetworkState struct {
	prev     []RoutingState
	cur      []RoutingState
	velocity []float64
	lateral  []float64
	status   []Status
}

// New allocates a zero (dry) state for n reaches.
func New(n int) *NetworkState {
	return &NetworkState{
		prev:     make([]RoutingState, n),
		cur:      make([]RoutingState, n),
		velocity: make([]float64, n),
		lateral:  make([]float64, n),
		status:   make([]Status, n),
	}
}

// FromCheckpoint builds a state whose previous timestep is initial.
func FromCheckpoint(initial []RoutingState) *NetworkState {
	s := New(len(initial))
	copy(s.prev, initial)
	return s
}

// Len returns the number of reaches.
func (s *NetworkState) Len() int { return len(s.prev) }

// Prev returns reach i's state from the last completed timestep.
func (s *NetworkState) Prev(i int) RoutingState { return s.prev[i] }

// Current returns reach i's state as computed in the running timestep.
func (s *NetworkState) Current(i int) RoutingState { return s.cur[i] }

// Outflow returns reach i's current-timestep outflow.
func (s *NetworkState) Outflow(i int) float64 { return s.cur[i].Outflow }

// Velocity returns reach i's current-timestep mean velocity.
func (s *NetworkState) Velocity(i int) float64 { return s.velocity[i] }

// Lateral returns reach i's lateral inflow for the running timestep.
func (s *NetworkState) Lateral(i int) float64 { return s.lateral[i] }

// SetLateral sets reach i's lateral inflow for the running timestep.
func (s *NetworkState) SetLateral(i int, q float64) { s.lateral[i] = q }

// Status returns reach i's status in the running timestep.
func (s *NetworkState) Status(i int) Status { return s.status[i] }

// Set records reach i's result for the running timestep.
func (s *NetworkState) Set(i int, rs RoutingState, velocity float64) {
	s.cur[i] = rs
	s.velocity[i] = velocity
	s.status[i] = StatusOK
}

// Fail marks reach i as failed; its outflow becomes NaN so that any reader
// sees an invalid value rather than a stale one.
func (s *NetworkState) Fail(i int) {
	s.cur[i] = RoutingState{Inflow: math.NaN(), Outflow: math.NaN(), Depth: math.NaN()}
	s.velocity[i] = math.NaN()
	s.status[i] = StatusFailed
}

// Skip marks reach i as not computed in the running timestep. Like Fail, it
// leaves NaN values behind.
func (s *NetworkState) Skip(i int) {
	s.cur[i] = RoutingState{Inflow: math.NaN(), Outflow: math.NaN(), Depth: math.NaN()}
	s.velocity[i] = math.NaN()
	s.status[i] = StatusSkipped
}

// Swap promotes the running timestep to the previous one.
func (s *NetworkState) Swap() {
	s.prev, s.cur = s.cur, s.prev
	for i := range s.status {
		s.status[i] = StatusOK
	}
}

// Checkpoint copies the last completed timestep.
func (s *NetworkState) Checkpoint() []RoutingState {
	out := make([]RoutingState, len(s.prev))
	copy(out, s.prev)
	return out
}

// Clone returns a deep copy.
func (s *NetworkState) Clone() *NetworkState {
	c := New(s.Len())
	copy(c.prev, s.prev)
	copy(c.cur, s.cur)
	copy(c.velocity, s.velocity)
	copy(c.lateral, s.lateral)
	copy(c.status, s.status)
	return c
}

// Snapshot is the per-step projection handed to result sinks. Slices are
// parallel to Reaches.
type Snapshot struct {
	RunID    string    `json:"run_id,omitempty"`
	Step     int       `json:"step"`
	Time     time.Time `json:"time"`
	Reaches  []string  `json:"reaches"`
	Outflow  []float64 `json:"outflow"`  // mean over the step, m3/s
	Inflow   []float64 `json:"inflow"`   // mean over the step, m3/s
	Lateral  []float64 `json:"lateral"`  // m3/s
	Volume   []float64 `json:"volume"`   // outflow volume over the step, m3
	Depth    []float64 `json:"depth"`    // end of step, m
	Velocity []float64 `json:"velocity"` // end of step, m/s
}

// Len returns the number of reaches in the snapshot.
func (s *Snapshot) Len() int { return len(s.Reaches) }

// Project returns a snapshot restricted to the given positions.
func (s *Snapshot) Project(idx []int) *Snapshot {
	pick := func(src []float64) []float64 {
		if src == nil {
			return nil
		}
		out := make([]float64, len(idx))
		for j, i := range idx {
			out[j] = src[i]
		}
		return out
	}
	reaches := make([]string, len(idx))
	for j, i := range idx {
		reaches[j] = s.Reaches[i]
	}
	return &Snapshot{
		RunID:    s.RunID,
		Step:     s.Step,
		Time:     s.Time,
		Reaches:  reaches,
		Outflow:  pick(s.Outflow),
		Inflow:   pick(s.Inflow),
		Lateral:  pick(s.Lateral),
		Volume:   pick(s.Volume),
		Depth:    pick(s.Depth),
		Velocity: pick(s.Velocity),
	}
}
