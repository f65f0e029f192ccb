package hydrofabric

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

type column struct {
	name     string
	required bool
	dst      func(p *channel.Params) *float64
}

func paramColumns(c config.Columns) []column {
	return []column{
		{c.Length, true, func(p *channel.Params) *float64 { return &p.Length }},
		{c.Manning, true, func(p *channel.Params) *float64 { return &p.Manning }},
		{c.ManningCC, false, func(p *channel.Params) *float64 { return &p.ManningCC }},
		{c.Slope, true, func(p *channel.Params) *float64 { return &p.Slope }},
		{c.BottomWidth, true, func(p *channel.Params) *float64 { return &p.BottomWidth }},
		{c.TopWidth, false, func(p *channel.Params) *float64 { return &p.TopWidth }},
		{c.TopWidthCC, false, func(p *channel.Params) *float64 { return &p.TopWidthCC }},
		{c.SideSlope, true, func(p *channel.Params) *float64 { return &p.SideSlope }},
		{c.AreaSqKm, false, func(p *channel.Params) *float64 { return &p.AreaSqKm }},
	}
}

// ReadCSV parses a flowpath attribute table. Optional columns that are absent
// or empty read as zero.
func ReadCSV(r io.Reader, cols config.Columns) (*Fabric, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedRecord, err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	idCol, ok := pos[cols.ID]
	if !ok {
		return nil, fmt.Errorf("%w: missing id column %q", ErrMalformedRecord, cols.ID)
	}
	downCol, ok := pos[cols.Downstream]
	if !ok {
		return nil, fmt.Errorf("%w: missing downstream column %q", ErrMalformedRecord, cols.Downstream)
	}
	pcols := paramColumns(cols)
	idx := make([]int, len(pcols))
	for i, c := range pcols {
		j, ok := pos[c.name]
		if !ok {
			if c.required {
				return nil, fmt.Errorf("%w: missing column %q", ErrMalformedRecord, c.name)
			}
			j = -1
		}
		idx[i] = j
	}

	f := &Fabric{Params: make(map[string]channel.Params)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, line, err)
		}
		id := strings.TrimSpace(rec[idCol])
		if id == "" {
			return nil, fmt.Errorf("%w: line %d: empty id", ErrMalformedRecord, line)
		}
		if _, dup := f.Params[id]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate id %q", ErrMalformedRecord, line, id)
		}
		var p channel.Params
		for i, c := range pcols {
			if idx[i] < 0 {
				continue
			}
			raw := strings.TrimSpace(rec[idx[i]])
			if raw == "" {
				if c.required {
					return nil, fmt.Errorf("%w: line %d: reach %q: empty %s", ErrMalformedRecord, line, id, c.name)
				}
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: reach %q: %s=%q", ErrMalformedRecord, line, id, c.name, raw)
			}
			*c.dst(&p) = v
		}
		f.Records = append(f.Records, network.Record{ID: id, Downstream: strings.TrimSpace(rec[downCol])})
		f.Params[id] = p
	}
	return f, nil
}
