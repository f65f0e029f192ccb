package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/mcroute/internal/selector"
)

// Validate checks the config for:
//   - Required fields per network, forcing and output format
//   - A usable time axis
//   - Duplicate inline reach IDs and a compilable output selector
//
// Topology problems (cycles, dangling references) are left to the network
// builder, which reports them with the offending reach.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch cfg.Network.Format {
	case "csv":
		if cfg.Network.Path == "" {
			add("network.path is required for csv networks")
		}
	case "inline":
		if len(cfg.Network.Reaches) == 0 {
			add("network.reaches must not be empty for inline networks")
		}
		seen := make(map[string]int)
		for i, r := range cfg.Network.Reaches {
			if r.ID == "" {
				add("network.reaches[%d]: id is required", i)
				continue
			}
			if j, ok := seen[r.ID]; ok {
				add("duplicate reach id %q (reaches[%d] and reaches[%d])", r.ID, j, i)
				continue
			}
			seen[r.ID] = i
		}
	default:
		add("network.format %q: want csv or inline", cfg.Network.Format)
	}

	switch cfg.Forcing.Format {
	case "csv":
		if cfg.Forcing.Dir == "" {
			add("forcing.dir is required for csv forcing")
		}
	case "constant":
		if cfg.Simulation.Steps <= 0 {
			add("simulation.steps must be set for constant forcing")
		}
		if len(cfg.Forcing.Constant) == 0 {
			add("forcing.constant must list at least one reach")
		}
	default:
		add("forcing.format %q: want csv or constant", cfg.Forcing.Format)
	}

	sim := cfg.Simulation
	if sim.ForcingIntervalS <= 0 {
		add("simulation.forcing_interval_s must be positive, got %d", sim.ForcingIntervalS)
	}
	if sim.Substeps < 1 {
		add("simulation.substeps must be at least 1, got %d", sim.Substeps)
	}
	if sim.Steps < 0 {
		add("simulation.steps must not be negative, got %d", sim.Steps)
	}

	eng := cfg.Engine
	if eng.Workers < 1 {
		add("engine.workers must be at least 1, got %d", eng.Workers)
	}
	if eng.ParallelThreshold < 1 {
		add("engine.parallel_threshold must be at least 1, got %d", eng.ParallelThreshold)
	}
	if eng.SinkQueue < 0 {
		add("engine.sink_queue must not be negative, got %d", eng.SinkQueue)
	}
	if eng.MaxRuns < 1 {
		add("engine.max_runs must be at least 1, got %d", eng.MaxRuns)
	}

	if cfg.Output.Format != "memory" && cfg.Output.Path == "" {
		add("output.path is required for %s output", cfg.Output.Format)
	}
	if _, err := selector.Compile(cfg.Output.Select); err != nil {
		add("output.select: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
