package results

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

var csvHeader = []string{"step", "time", "feature_id", "flow", "velocity", "depth", "inflow", "lateral", "volume"}

// CSV writes snapshots in long format, one row per reach and step.
type CSV struct {
	buf    *bufio.Writer
	w      *csv.Writer
	closer io.Closer
	header bool
}

// NewCSV writes to w. If w is an io.Closer it is closed by Close.
func NewCSV(w io.Writer) *CSV {
	buf := bufio.NewWriter(w)
	c := &CSV{buf: buf, w: csv.NewWriter(buf)}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

func (c *CSV) Write(_ context.Context, s *state.Snapshot) error {
	if !c.header {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.header = true
	}
	step := strconv.Itoa(s.Step)
	ts := s.Time.UTC().Format(time.RFC3339)
	row := make([]string, len(csvHeader))
	for i, id := range s.Reaches {
		row[0] = step
		row[1] = ts
		row[2] = id
		row[3] = formatFloat(s.Outflow, i)
		row[4] = formatFloat(s.Velocity, i)
		row[5] = formatFloat(s.Depth, i)
		row[6] = formatFloat(s.Inflow, i)
		row[7] = formatFloat(s.Lateral, i)
		row[8] = formatFloat(s.Volume, i)
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("csv: step %d reach %q: %w", s.Step, id, err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if ferr := c.buf.Flush(); err == nil {
		err = ferr
	}
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func formatFloat(v []float64, i int) string {
	if i >= len(v) {
		return ""
	}
	return strconv.FormatFloat(v[i], 'g', -1, 64)
}

type csvFormat struct{}

func (csvFormat) Name() string { return "csv" }

func (csvFormat) Open(path string) (Sink, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewCSV(f), nil
}
