package results

import (
	"context"
	"math"
	"sync"

	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

// Memory keeps every snapshot it receives.
type Memory struct {
	mu    sync.RWMutex
	snaps []*state.Snapshot
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(_ context.Context, s *state.Snapshot) error {
	m.mu.Lock()
	m.snaps = append(m.snaps, s)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Snapshots returns the snapshots received so far.
func (m *Memory) Snapshots() []*state.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*state.Snapshot, len(m.snaps))
	copy(out, m.snaps)
	return out
}

// Outflow returns reach id's outflow per step, or nil if the reach was never
// written.
func (m *Memory) Outflow(id string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []float64
	for _, s := range m.snaps {
		for i, r := range s.Reaches {
			if r == id {
				out = append(out, s.Outflow[i])
				break
			}
		}
	}
	return out
}

func isNonFinite(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

type memoryFormat struct{}

func (memoryFormat) Name() string { return "memory" }

func (memoryFormat) Open(string) (Sink, error) { return NewMemory(), nil }
