// Package forcing supplies per-reach lateral inflow for each forcing step.
package forcing

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissingForcing means a reach has no lateral inflow for a step.
var ErrMissingForcing = errors.New("missing forcing")

// Source yields lateral inflow (m3/s) per reach and forcing step.
type Source interface {
	// Len is the number of steps available, or -1 when unbounded.
	Len() int
	// Lateral returns reach id's inflow at step. ok is false when the source
	// has no value for it.
	Lateral(id string, step int) (q float64, ok bool)
}

// Series holds one time series per reach.
type Series map[string][]float64

// Len returns the number of steps every series covers.
func (s Series) Len() int {
	if len(s) == 0 {
		return 0
	}
	n := math.MaxInt
	for _, v := range s {
		n = min(n, len(v))
	}
	return n
}

func (s Series) Lateral(id string, step int) (float64, bool) {
	v, ok := s[id]
	if !ok || step < 0 || step >= len(v) {
		return 0, false
	}
	return v[step], true
}

// Constant gives every listed reach the same inflow at every step.
type Constant map[string]float64

func (c Constant) Len() int { return -1 }

func (c Constant) Lateral(id string, _ int) (float64, bool) {
	q, ok := c[id]
	return q, ok
}

// ZeroFill reports zero inflow wherever the wrapped source has none.
type ZeroFill struct{ Source }

func (z ZeroFill) Lateral(id string, step int) (float64, bool) {
	if q, ok := z.Source.Lateral(id, step); ok {
		return q, true
	}
	return 0, true
}

// Fill writes the inflow of every reach in ids into dst, position for
// position. Non-finite or missing values fail with ErrMissingForcing.
func Fill(src Source, ids []string, step int, dst []float64) error {
	if len(dst) < len(ids) {
		return fmt.Errorf("forcing: destination holds %d values, need %d", len(dst), len(ids))
	}
	for i, id := range ids {
		q, ok := src.Lateral(id, step)
		if !ok {
			return fmt.Errorf("%w: reach %q at step %d", ErrMissingForcing, id, step)
		}
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return fmt.Errorf("%w: reach %q at step %d is not finite (%v)", ErrMissingForcing, id, step, q)
		}
		dst[i] = q
	}
	return nil
}
