// Package selector picks reaches with boolean expressions over their
// attributes, e.g. `reach.outlet == true OR channel.slope < 0.001`.
package selector

import (
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

type fieldKind int

const (
	kindNumber fieldKind = iota
	kindString
	kindBool
)

var fields = map[string]fieldKind{
	"reach.id":             kindString,
	"reach.downstream":     kindString,
	"reach.rank":           kindNumber,
	"reach.level":          kindNumber,
	"reach.upstream_count": kindNumber,
	"reach.outlet":         kindBool,
	"reach.headwater":      kindBool,
	"channel.length":       kindNumber,
	"channel.slope":        kindNumber,
	"channel.n":            kindNumber,
	"channel.n_cc":         kindNumber,
	"channel.bottom_width": kindNumber,
	"channel.top_width":    kindNumber,
	"channel.area_sqkm":    kindNumber,
}

// Attributes maps attribute names to values (float64, string or bool).
type Attributes map[string]any

// ReachAttributes collects the attributes of the reach at rank. params may be
// nil, in which case only reach.* attributes are set.
func ReachAttributes(topo *network.Topology, params *channel.Store, rank int) Attributes {
	n := topo.At(rank)
	a := Attributes{
		"reach.id":             n.ID,
		"reach.downstream":     n.Downstream,
		"reach.rank":           float64(n.Rank),
		"reach.level":          float64(n.Level),
		"reach.upstream_count": float64(len(n.Upstream)),
		"reach.outlet":         n.IsOutlet(),
		"reach.headwater":      n.IsHeadwater(),
	}
	if params != nil {
		p := params.At(rank)
		a["channel.length"] = p.Length
		a["channel.slope"] = p.Slope
		a["channel.n"] = p.Manning
		a["channel.n_cc"] = p.ManningCC
		a["channel.bottom_width"] = p.BottomWidth
		a["channel.top_width"] = p.TopWidth
		a["channel.area_sqkm"] = p.AreaSqKm
	}
	return a
}

// Selector is a compiled expression. The zero-length expression matches
// every reach.
type Selector struct {
	src  string
	root node
}

// Compile parses expr and checks attribute names and operand types.
func Compile(expr string) (*Selector, error) {
	s := &Selector{src: strings.TrimSpace(expr)}
	if s.src == "" {
		return s, nil
	}
	root, err := parse(s.src)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", s.src, err)
	}
	s.root = root
	return s, nil
}

func (s *Selector) String() string { return s.src }

// Match evaluates the selector against one reach.
func (s *Selector) Match(a Attributes) (bool, error) {
	if s.root == nil {
		return true, nil
	}
	return s.root.eval(a)
}

// Select returns the ranks of all matching reaches in ascending order.
func (s *Selector) Select(topo *network.Topology, params *channel.Store) ([]int, error) {
	out := make([]int, 0, topo.Len())
	for r := 0; r < topo.Len(); r++ {
		ok, err := s.Match(ReachAttributes(topo, params, r))
		if err != nil {
			return nil, fmt.Errorf("selector %q, reach %q: %w", s.src, topo.At(r).ID, err)
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (n *andNode) eval(a Attributes) (bool, error) {
	l, err := n.left.eval(a)
	if err != nil || !l {
		return false, err
	}
	return n.right.eval(a)
}

func (n *orNode) eval(a Attributes) (bool, error) {
	l, err := n.left.eval(a)
	if err != nil || l {
		return l, err
	}
	return n.right.eval(a)
}

func (n *notNode) eval(a Attributes) (bool, error) {
	v, err := n.inner.eval(a)
	return !v, err
}

func (n *cmpNode) eval(a Attributes) (bool, error) {
	v, ok := a[n.field]
	if !ok {
		return false, fmt.Errorf("attribute %q not available", n.field)
	}
	switch n.op {
	case OpEq:
		return equal(v, n.lit), nil
	case OpNeq:
		return !equal(v, n.lit), nil
	case OpGt, OpGte, OpLt, OpLte:
		x, ok := v.(float64)
		if !ok {
			return false, fmt.Errorf("attribute %q is %T, not a number", n.field, v)
		}
		y := n.lit.(float64)
		switch n.op {
		case OpGt:
			return x > y, nil
		case OpGte:
			return x >= y, nil
		case OpLt:
			return x < y, nil
		}
		return x <= y, nil
	case OpContains:
		str, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("attribute %q is %T, not a string", n.field, v)
		}
		return strings.Contains(str, n.lit.(string)), nil
	case OpMatches:
		str, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("attribute %q is %T, not a string", n.field, v)
		}
		return n.re.MatchString(str), nil
	}
	return false, fmt.Errorf("unknown operator %q", n.op)
}

func equal(v, lit any) bool {
	if x, ok := v.(float64); ok {
		y, ok := lit.(float64)
		return ok && math.Abs(x-y) < 1e-9
	}
	return v == lit
}
