package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/forcing"
	"github.com/gyaneshwarpardhi/mcroute/internal/hydrofabric"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
	"github.com/gyaneshwarpardhi/mcroute/internal/results"
	"github.com/gyaneshwarpardhi/mcroute/internal/selector"
)

// Network is a validated topology with its channel parameters.
type Network struct {
	Topology *network.Topology
	Params   *channel.Store
	Areas    map[string]float64
	Source   string
	LoadedAt time.Time
}

// NewNetwork builds the topology and parameter store for a loaded fabric.
func NewNetwork(f *hydrofabric.Fabric) (*Network, error) {
	topo, err := network.Build(f.Records)
	if err != nil {
		return nil, err
	}
	params, err := channel.NewStore(topo, f.Params)
	if err != nil {
		return nil, err
	}
	return &Network{
		Topology: topo,
		Params:   params,
		Areas:    f.Areas(),
		Source:   f.Source,
		LoadedAt: time.Now(),
	}, nil
}

// ForcingFunc opens the lateral inflow for one run.
type ForcingFunc func(ctx context.Context, n *Network) (forcing.Source, error)

// OutputFunc opens the result sink for one run.
type OutputFunc func(runID string, n *Network) (results.Sink, error)

// Setup is everything a run needs. A Setup is immutable once handed to the
// engine; a config reload builds a new one.
type Setup struct {
	// Config is the configuration the setup was built from, if any.
	Config    *config.Config
	Network   *Network
	Driver    DriverConfig
	Processor ProcessorOptions
	MaxRuns   int
	Forcing   ForcingFunc
	Output    OutputFunc
}

// NewSetup loads the network named by cfg and prepares forcing and output
// openers for it.
func NewSetup(ctx context.Context, cfg *config.Config) (*Setup, error) {
	fab, err := hydrofabric.Load(ctx, cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	net, err := NewNetwork(fab)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}

	var idx []int
	if cfg.Output.Select != "" {
		sel, err := selector.Compile(cfg.Output.Select)
		if err != nil {
			return nil, err
		}
		if idx, err = sel.Select(net.Topology, net.Params); err != nil {
			return nil, err
		}
	}

	return &Setup{
		Config:  cfg,
		Network: net,
		Driver: DriverConfig{
			Start:    cfg.Simulation.Start,
			Interval: cfg.Simulation.Interval(),
			Substeps: cfg.Simulation.Substeps,
			Steps:    cfg.Simulation.Steps,
		},
		Processor: ProcessorOptions{
			Workers:           cfg.Engine.Workers,
			ParallelThreshold: cfg.Engine.ParallelThreshold,
		},
		MaxRuns: cfg.Engine.MaxRuns,
		Forcing: forcingFunc(cfg.Forcing),
		Output:  outputFunc(cfg.Output, cfg.Engine.SinkQueue, idx, results.DefaultRegistry()),
	}, nil
}

func forcingFunc(fc config.ForcingConf) ForcingFunc {
	return func(ctx context.Context, n *Network) (forcing.Source, error) {
		var src forcing.Source
		switch fc.Format {
		case "csv":
			opts := forcing.CSVOptions{Column: fc.Column, AllowMissing: fc.AllowMissing, Workers: fc.Workers}
			if fc.AreaConversion {
				opts.Areas = n.Areas
			}
			series, err := forcing.LoadDir(ctx, fc.Dir, n.Topology.Order(), opts)
			if err != nil {
				return nil, err
			}
			src = series
		case "constant":
			src = forcing.Constant(fc.Constant)
		default:
			return nil, fmt.Errorf("unknown forcing format %q", fc.Format)
		}
		if fc.AllowMissing {
			src = forcing.ZeroFill{Source: src}
		}
		return src, nil
	}
}

// outputFunc opens sinks in the configured format. A "{run}" placeholder in
// the path is replaced with the run ID.
func outputFunc(oc config.OutputConf, queue int, idx []int, reg *results.Registry) OutputFunc {
	return func(runID string, _ *Network) (results.Sink, error) {
		path := strings.ReplaceAll(oc.Path, "{run}", runID)
		sink, err := reg.Open(oc.Format, path)
		if err != nil {
			return nil, err
		}
		if idx != nil {
			sink = results.NewProjection(sink, idx)
		}
		if queue > 0 {
			sink = results.NewAsync(sink, queue)
		}
		return sink, nil
	}
}
