package results

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

// JSONL writes one JSON object per snapshot per line.
type JSONL struct {
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONL writes to w. If w is an io.Closer it is closed by Close.
func NewJSONL(w io.Writer) *JSONL {
	buf := bufio.NewWriter(w)
	j := &JSONL{buf: buf, enc: json.NewEncoder(buf)}
	if cl, ok := w.(io.Closer); ok {
		j.closer = cl
	}
	return j
}

func (j *JSONL) Write(_ context.Context, s *state.Snapshot) error {
	if err := j.enc.Encode(jsonSnapshot(s)); err != nil {
		return fmt.Errorf("jsonl: step %d: %w", s.Step, err)
	}
	return j.buf.Flush()
}

func (j *JSONL) Close() error {
	err := j.buf.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// jsonSnapshot replaces non-finite values, which encoding/json rejects, with
// nulls.
func jsonSnapshot(s *state.Snapshot) any {
	type out struct {
		*state.Snapshot
		Outflow  []*float64 `json:"outflow"`
		Inflow   []*float64 `json:"inflow"`
		Lateral  []*float64 `json:"lateral"`
		Volume   []*float64 `json:"volume"`
		Depth    []*float64 `json:"depth"`
		Velocity []*float64 `json:"velocity"`
	}
	return out{
		Snapshot: s,
		Outflow:  nullable(s.Outflow),
		Inflow:   nullable(s.Inflow),
		Lateral:  nullable(s.Lateral),
		Volume:   nullable(s.Volume),
		Depth:    nullable(s.Depth),
		Velocity: nullable(s.Velocity),
	}
}

func nullable(v []float64) []*float64 {
	if v == nil {
		return nil
	}
	out := make([]*float64, len(v))
	for i := range v {
		if !isNonFinite(v[i]) {
			out[i] = &v[i]
		}
	}
	return out
}

type jsonlFormat struct{}

func (jsonlFormat) Name() string { return "jsonl" }

func (jsonlFormat) Open(path string) (Sink, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewJSONL(f), nil
}
