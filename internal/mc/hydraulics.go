package mc

import (
	"math"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
)

// section is a trapezoidal main channel with a rectangular compound channel
// above bankfull depth.
type section struct {
	p   *channel.Params
	z   float64 // horizontal run per unit rise of the side walls
	bfd float64 // bankfull depth, m
	rz  float64 // sqrt(1 + z^2)
}

func newSection(p *channel.Params) section {
	z := 1.0
	if p.SideSlope != 0 {
		z = 1.0 / p.SideSlope
	}
	var bfd float64
	switch {
	case p.TopWidthCC <= 0:
		bfd = math.Inf(1) // no floodplain: the trapezoid walls extend
	case p.BottomWidth > p.TopWidth:
		bfd = p.BottomWidth / 0.00001 // effectively never overtops
	case p.BottomWidth == p.TopWidth:
		bfd = p.BottomWidth / (2.0 * z)
	default:
		bfd = (p.TopWidth - p.BottomWidth) / (2.0 * z)
	}
	return section{p: p, z: z, bfd: bfd, rz: math.Sqrt(1.0 + z*z)}
}

// Geometry is the wetted cross-section at one depth.
type Geometry struct {
	Depth             float64 // m
	Area              float64 // main channel, m2
	AreaCC            float64 // compound channel, m2
	WettedPerimeter   float64 // main channel, m
	WettedPerimeterCC float64 // compound channel, m
	HydraulicRadius   float64 // m
	SurfaceWidth      float64 // water surface width of the main channel, m
}

func (s section) at(h float64) Geometry {
	p := s.p
	g := Geometry{Depth: h, SurfaceWidth: p.BottomWidth + 2.0*s.z*h}
	if h > s.bfd {
		g.Area = (p.BottomWidth + s.bfd*s.z) * s.bfd
		g.AreaCC = p.TopWidthCC * (h - s.bfd)
		g.WettedPerimeter = p.BottomWidth + 2.0*s.bfd*s.rz
		g.WettedPerimeterCC = p.TopWidthCC + 2.0*(h-s.bfd)
		g.HydraulicRadius = (g.Area + g.AreaCC) / (g.WettedPerimeter + g.WettedPerimeterCC)
		return g
	}
	g.Area = (p.BottomWidth + h*s.z) * h
	g.WettedPerimeter = p.BottomWidth + 2.0*h*s.rz
	if g.WettedPerimeter > 0 {
		g.HydraulicRadius = g.Area / g.WettedPerimeter
	}
	return g
}

// celerity is the kinematic wave celerity dQ/dA at the given geometry,
// weighted by main and compound area once the flow leaves the bank.
func (s section) celerity(g Geometry) float64 {
	p := s.p
	h := g.Depth
	if h <= 0 {
		return 0
	}
	r := g.HydraulicRadius
	sq := math.Sqrt(p.Slope)
	if h > s.bfd {
		main := (sq / p.Manning) *
			((5.0/3.0)*math.Pow(r, 2.0/3.0) -
				(2.0/3.0)*math.Pow(r, 5.0/3.0)*(2.0*s.rz/(p.BottomWidth+2.0*s.bfd*s.z)))
		cc := (sq / p.ManningCC) * (5.0 / 3.0) * math.Pow(h-s.bfd, 2.0/3.0)
		return math.Max(0, (main*g.Area+cc*g.AreaCC)/(g.Area+g.AreaCC))
	}
	return math.Max(0, (sq/p.Manning)*
		((5.0/3.0)*math.Pow(r, 2.0/3.0)-
			(2.0/3.0)*math.Pow(r, 5.0/3.0)*(2.0*s.rz/(p.BottomWidth+2.0*h*s.z))))
}

// manningFlow is the normal flow carried at the given geometry.
func (s section) manningFlow(g Geometry) float64 {
	wp := g.WettedPerimeter + g.WettedPerimeterCC
	if wp <= 0 {
		return 0
	}
	n := (g.WettedPerimeter*s.p.Manning + g.WettedPerimeterCC*s.p.ManningCC) / wp
	return (1.0 / n) * (g.Area + g.AreaCC) * math.Pow(g.HydraulicRadius, 2.0/3.0) * math.Sqrt(s.p.Slope)
}

// routingWidth is the width used for the Cunge diffusion term.
func (s section) routingWidth(g Geometry) float64 {
	if g.Depth > s.bfd && s.p.TopWidthCC > 0 {
		return s.p.TopWidthCC
	}
	return g.SurfaceWidth
}

// velocity is the mean Manning velocity of the trapezoidal section at depth h.
func (s section) velocity(h float64) float64 {
	if h <= 0 {
		return 0
	}
	p := s.p
	twl := p.BottomWidth + 2.0*s.z*h
	half := (twl - p.BottomWidth) / 2.0
	r := (h * (p.BottomWidth + twl) / 2.0) / (p.BottomWidth + 2.0*math.Sqrt(half*half+h*h))
	return (1.0 / p.Manning) * math.Pow(r, 2.0/3.0) * math.Sqrt(p.Slope)
}

// Hydraulics exposes the section geometry, celerity and normal flow of a
// reach at depth h.
func Hydraulics(p *channel.Params, h float64) (g Geometry, celerity, flow float64) {
	s := newSection(p)
	g = s.at(h)
	return g, s.celerity(g), s.manningFlow(g)
}

// BankfullDepth returns the depth at which flow enters the compound channel.
func BankfullDepth(p *channel.Params) float64 { return newSection(p).bfd }
