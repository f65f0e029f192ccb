// Package hydrofabric loads reach connectivity and channel parameters.
package hydrofabric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

var (
	// ErrSourceUnavailable means the network source could not be opened.
	ErrSourceUnavailable = errors.New("network source unavailable")
	// ErrMalformedRecord is shared with the network builder.
	ErrMalformedRecord = network.ErrMalformedRecord
)

// Fabric is a loaded network: connectivity plus per-reach parameters.
type Fabric struct {
	Records []network.Record
	Params  map[string]channel.Params
	Source  string
}

// Load reads the network described by cfg.
func Load(ctx context.Context, cfg config.NetworkConf) (*Fabric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		f   *Fabric
		err error
	)
	switch cfg.Format {
	case "csv":
		f, err = loadCSV(cfg.Path, cfg.Columns)
	case "inline":
		f, err = FromReaches(cfg.Reaches)
	default:
		return nil, fmt.Errorf("%w: unknown network format %q", ErrSourceUnavailable, cfg.Format)
	}
	if err != nil {
		return nil, err
	}
	if cfg.ExternalOutlets {
		f.TrimExternal()
	}
	slog.Info("network loaded", "source", f.Source, "reaches", len(f.Records))
	return f, nil
}

func loadCSV(path string, cols config.Columns) (*Fabric, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer fh.Close()
	f, err := ReadCSV(fh, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Source = path
	return f, nil
}

// FromReaches builds a fabric from inline reach declarations.
func FromReaches(defs []config.ReachDef) (*Fabric, error) {
	f := &Fabric{
		Records: make([]network.Record, 0, len(defs)),
		Params:  make(map[string]channel.Params, len(defs)),
		Source:  "inline",
	}
	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: reaches[%d]: empty id", ErrMalformedRecord, i)
		}
		f.Records = append(f.Records, network.Record{ID: d.ID, Downstream: d.Downstream})
		f.Params[d.ID] = d.Params
	}
	return f, nil
}

// TrimExternal turns references to reaches outside the fabric into outlets
// and returns the affected reach IDs.
func (f *Fabric) TrimExternal() []string {
	known := make(map[string]struct{}, len(f.Records))
	for _, r := range f.Records {
		known[r.ID] = struct{}{}
	}
	var trimmed []string
	for i := range f.Records {
		r := &f.Records[i]
		if r.Downstream == "" {
			continue
		}
		if _, ok := known[r.Downstream]; !ok {
			slog.Warn("reach drains outside the network, treating as outlet", "reach", r.ID, "downstream", r.Downstream)
			trimmed = append(trimmed, r.ID)
			r.Downstream = ""
		}
	}
	return trimmed
}

// Areas returns each reach's catchment area in km2.
func (f *Fabric) Areas() map[string]float64 {
	out := make(map[string]float64, len(f.Params))
	for id, p := range f.Params {
		out[id] = p.AreaSqKm
	}
	return out
}
