// Package results persists per-step routing snapshots.
package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

// Sink receives one snapshot per forcing step, in step order.
type Sink interface {
	Write(ctx context.Context, s *state.Snapshot) error
	Close() error
}

// Format opens sinks of one output format.
type Format interface {
	// Name returns the key the format is registered under.
	Name() string
	// Open creates a sink writing to path.
	Open(path string) (Sink, error)
}

// Registry maps format names to their openers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]Format
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]Format)}
}

// DefaultRegistry returns a registry holding the csv, jsonl and memory formats.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(csvFormat{})
	r.Register(jsonlFormat{})
	r.Register(memoryFormat{})
	return r
}

// Register adds a format. Panics on duplicate names to surface misconfiguration early.
func (r *Registry) Register(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formats[f.Name()]; exists {
		panic(fmt.Sprintf("results registry: duplicate format %q", f.Name()))
	}
	r.formats[f.Name()] = f
}

// Open opens a sink in the named format.
func (r *Registry) Open(name, path string) (Sink, error) {
	r.mu.RLock()
	f, ok := r.formats[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no output format registered as %q", name)
	}
	return f.Open(path)
}

// Names returns the registered format names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formats))
	for k := range r.formats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func createFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return os.Create(path)
}
