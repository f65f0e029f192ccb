package channel

import (
	"errors"
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

// MinSlope replaces a zero bed slope; flat reaches would otherwise have no
// Manning flow at any depth.
const MinSlope = 0.00001

var (
	ErrMissingParams = errors.New("missing channel parameters")
	ErrInvalidParams = errors.New("invalid channel parameters")
)

// Params holds the static hydraulic attributes of one reach.
type Params struct {
	Length      float64 `yaml:"length" json:"length"`             // dx, m
	Slope       float64 `yaml:"slope" json:"slope"`               // S0, m/m
	Manning     float64 `yaml:"n" json:"n"`                       // main channel roughness
	ManningCC   float64 `yaml:"n_cc" json:"n_cc"`                 // compound channel roughness
	BottomWidth float64 `yaml:"bottom_width" json:"bottom_width"` // m
	TopWidth    float64 `yaml:"top_width" json:"top_width"`       // bankfull top width, m
	TopWidthCC  float64 `yaml:"top_width_cc" json:"top_width_cc"` // compound channel width, m
	SideSlope   float64 `yaml:"side_slope" json:"side_slope"`     // ChSlp; z = 1/SideSlope
	AreaSqKm    float64 `yaml:"area_sqkm" json:"area_sqkm,omitempty"`
}

// Validate reports parameters the routing kernel cannot work with.
func (p *Params) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"length", p.Length}, {"slope", p.Slope}, {"n", p.Manning}, {"n_cc", p.ManningCC},
		{"bottom_width", p.BottomWidth}, {"top_width", p.TopWidth},
		{"top_width_cc", p.TopWidthCC}, {"side_slope", p.SideSlope},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidParams, f.name)
		}
	}
	switch {
	case p.Length <= 0:
		return fmt.Errorf("%w: length must be positive, got %g", ErrInvalidParams, p.Length)
	case p.Slope < 0:
		return fmt.Errorf("%w: slope must not be negative, got %g", ErrInvalidParams, p.Slope)
	case p.Manning <= 0:
		return fmt.Errorf("%w: n must be positive, got %g", ErrInvalidParams, p.Manning)
	case p.BottomWidth <= 0:
		return fmt.Errorf("%w: bottom_width must be positive, got %g", ErrInvalidParams, p.BottomWidth)
	case p.SideSlope < 0:
		return fmt.Errorf("%w: side_slope must not be negative, got %g", ErrInvalidParams, p.SideSlope)
	}
	return nil
}

// Store is a read-only mapping from reach to parameters. It is populated
// entirely before routing starts and is safe for unsynchronized concurrent
// reads afterwards.
type Store struct {
	byRank []*Params
	byID   map[string]*Params
}

// NewStore binds parameters to every reach of the topology. A reach without a
// parameter record fails with ErrMissingParams. Zero slopes are raised to
// MinSlope; a zero compound roughness falls back to the main channel n.
func NewStore(topo *network.Topology, params map[string]Params) (*Store, error) {
	s := &Store{
		byRank: make([]*Params, topo.Len()),
		byID:   make(map[string]*Params, topo.Len()),
	}
	for rank := 0; rank < topo.Len(); rank++ {
		id := topo.At(rank).ID
		p, ok := params[id]
		if !ok {
			return nil, fmt.Errorf("%w for reach %q", ErrMissingParams, id)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("reach %q: %w", id, err)
		}
		if p.Slope == 0 {
			p.Slope = MinSlope
		}
		if p.ManningCC <= 0 {
			p.ManningCC = p.Manning
		}
		s.byRank[rank] = &p
		s.byID[id] = &p
	}
	return s, nil
}

// Get returns the parameters of a reach.
func (s *Store) Get(id string) (*Params, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w for reach %q", ErrMissingParams, id)
	}
	return p, nil
}

// At returns the parameters of the reach at the given topology rank.
func (s *Store) At(rank int) *Params { return s.byRank[rank] }

// Len returns the number of reaches with parameters.
func (s *Store) Len() int { return len(s.byRank) }
