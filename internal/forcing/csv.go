package forcing

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/mcroute/internal/metrics"
)

// DefaultColumnIndex is used when no column is named.
const DefaultColumnIndex = 2

// CSVOptions controls LoadDir.
type CSVOptions struct {
	// Column names the lateral inflow column. Empty means DefaultColumnIndex.
	Column string
	// Areas, when set, converts values from m/h of runoff over each reach's
	// catchment (km2) to m3/s. Every loaded reach needs a positive area.
	Areas map[string]float64
	// AllowMissing skips reaches with no file instead of failing. At least
	// one file must still be found.
	AllowMissing bool
	// Workers bounds concurrent file reads; <= 0 means unbounded.
	Workers int
}

// FileName returns the forcing file name for a reach.
func FileName(id string) string { return "cat-" + id + ".csv" }

// LoadDir reads one file per reach from dir in parallel.
func LoadDir(ctx context.Context, dir string, ids []string, opts CSVOptions) (Series, error) {
	var (
		mu  sync.Mutex
		out = make(Series, len(ids))
	)
	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, FileName(id))
			f, err := os.Open(path)
			if errors.Is(err, fs.ErrNotExist) {
				if opts.AllowMissing {
					slog.Warn("no forcing file for reach", "reach", id, "path", path)
					return nil
				}
				return fmt.Errorf("%w: reach %q: %s not found", ErrMissingForcing, id, path)
			}
			if err != nil {
				return fmt.Errorf("forcing: open %s: %w", path, err)
			}
			defer f.Close()

			scale := 1.0
			if opts.Areas != nil {
				area := opts.Areas[id]
				if !(area > 0) {
					return fmt.Errorf("%w: reach %q has no catchment area for unit conversion", ErrMissingForcing, id)
				}
				scale = area * 1e6 / 3600
			}
			vals, err := ReadSeries(f, opts.Column, scale)
			if err != nil {
				return fmt.Errorf("forcing: %s: %w", path, err)
			}
			metrics.ForcingFilesLoaded.Inc()

			mu.Lock()
			out[id] = vals
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(out) == 0 && len(ids) > 0 {
		return nil, fmt.Errorf("%w: no forcing files for any of %d reaches in %s", ErrMissingForcing, len(ids), dir)
	}
	return out, nil
}

// ReadSeries parses one headed CSV and returns the chosen column times scale.
// A named column must appear in the header.
func ReadSeries(r io.Reader, column string, scale float64) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := DefaultColumnIndex
	if column != "" {
		col = -1
		for i, h := range header {
			if strings.TrimSpace(h) == column {
				col = i
				break
			}
		}
		if col < 0 {
			return nil, fmt.Errorf("column %q not in header %v", column, header)
		}
	}

	var vals []float64
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}
		if col >= len(rec) {
			return nil, fmt.Errorf("record %d: missing column %d", row, col)
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: parse %q: %w", row, rec[col], err)
		}
		vals = append(vals, q*scale)
	}
	return vals, nil
}
