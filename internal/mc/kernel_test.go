package mc

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
)

func testParams() *channel.Params {
	return &channel.Params{
		Length: 1000, Slope: 0.002, Manning: 0.035, ManningCC: 0.07,
		BottomWidth: 5, TopWidth: 9, TopWidthCC: 30, SideSlope: 0.5,
	}
}

func randomParams(rng *rand.Rand) *channel.Params {
	bw := 1 + rng.Float64()*40
	return &channel.Params{
		Length:      50 + rng.Float64()*5000,
		Slope:       0.00001 + rng.Float64()*0.05,
		Manning:     0.02 + rng.Float64()*0.1,
		ManningCC:   0.04 + rng.Float64()*0.15,
		BottomWidth: bw,
		TopWidth:    bw + rng.Float64()*20,
		TopWidthCC:  rng.Float64() * 200,
		SideSlope:   0.1 + rng.Float64()*2,
	}
}

func TestCoefficientsFor_SumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		dt := 1 + rng.Float64()*7200
		k := dt * (1 + rng.Float64()*100)
		x := rng.Float64() * 0.5
		c := CoefficientsFor(k, x, dt)
		if math.Abs(c.Sum()-1) > 1e-9 {
			t.Fatalf("k=%g x=%g dt=%g: sum = %.15f", k, x, dt, c.Sum())
		}
		if c.C1 < 0 || c.C2 < 0 {
			t.Fatalf("k=%g x=%g dt=%g: negative C1/C2 %+v", k, x, dt, c)
		}
	}
}

func TestRoute_CoefficientsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		p := randomParams(rng)
		in := Input{
			InflowPrev:  rng.Float64() * 500,
			InflowNow:   rng.Float64() * 500,
			OutflowPrev: rng.Float64() * 500,
			DepthPrev:   rng.Float64() * 3,
		}
		dt := []float64{60, 300, 900, 3600}[rng.Intn(4)]
		res, err := Route(in, p, dt)
		if err != nil {
			t.Fatalf("case %d: Route error: %v", i, err)
		}
		if math.Abs(res.Coefficients.Sum()-1) > 1e-9 {
			t.Fatalf("case %d: coefficient sum %.15f (%+v)", i, res.Coefficients.Sum(), res.Coefficients)
		}
		if res.Outflow < 0 {
			t.Fatalf("case %d: negative outflow %g", i, res.Outflow)
		}
		if res.K < dt {
			t.Fatalf("case %d: K=%g shorter than dt=%g", i, res.K, dt)
		}
		if res.X < 0 || res.X > 0.5 {
			t.Fatalf("case %d: X=%g out of range", i, res.X)
		}
	}
}

func TestRoute_NonNegative(t *testing.T) {
	p := testParams()
	cases := []Input{
		{InflowPrev: 100, InflowNow: 0, OutflowPrev: 0},
		{InflowPrev: 0, InflowNow: 0, OutflowPrev: 50},
		{InflowPrev: 500, InflowNow: 1, OutflowPrev: 0, DepthPrev: 2},
		{InflowPrev: 0, InflowNow: 1e-7, OutflowPrev: 0},
	}
	for _, in := range cases {
		res, err := Route(in, p, 300)
		if err != nil {
			t.Fatalf("%+v: Route error: %v", in, err)
		}
		if res.Outflow < 0 {
			t.Errorf("%+v: outflow %g < 0", in, res.Outflow)
		}
	}
}

func TestRoute_LowFlowTranslation(t *testing.T) {
	res, err := Route(Input{InflowNow: 5e-7}, testParams(), 300)
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if res.Degeneracy != LowFlow {
		t.Errorf("degeneracy = %q, want %q", res.Degeneracy, LowFlow)
	}
	if res.Outflow != 5e-7 {
		t.Errorf("outflow = %g, want pass-through 5e-7", res.Outflow)
	}
	if res.Coefficients != Translation {
		t.Errorf("coefficients = %+v, want translation", res.Coefficients)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	in := Input{InflowPrev: 12.5, InflowNow: 40, OutflowPrev: 9.75, DepthPrev: 0.8}
	first, err := Route(in, testParams(), 300)
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Route(in, testParams(), 300)
		if again != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestRoute_SteadyState(t *testing.T) {
	p := testParams()
	const inflow = 10.0
	var st Input
	var res Result
	for k := 0; k < 500; k++ {
		st.InflowNow = inflow
		var err error
		res, err = Route(st, p, 300)
		if err != nil {
			t.Fatalf("step %d: Route error: %v", k, err)
		}
		st = Input{InflowPrev: inflow, OutflowPrev: res.Outflow, DepthPrev: res.Depth}
	}
	if math.Abs(res.Outflow-inflow) > 1e-6 {
		t.Errorf("steady outflow = %.9f, want %g", res.Outflow, inflow)
	}
	if res.Depth <= 0 || res.Velocity <= 0 {
		t.Errorf("depth=%g velocity=%g, want positive", res.Depth, res.Velocity)
	}
	_, _, q := Hydraulics(p, res.Depth)
	if math.Abs(q-inflow)/inflow > 0.05 {
		t.Errorf("normal flow at solved depth = %g, want close to %g", q, inflow)
	}
}

func TestRoute_Attenuates(t *testing.T) {
	p := testParams()
	res, err := Route(Input{InflowPrev: 0, InflowNow: 50, OutflowPrev: 0}, p, 300)
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if res.Outflow >= 50 {
		t.Errorf("first-step outflow %g should lag a step rise to 50", res.Outflow)
	}
}

func TestRoute_Errors(t *testing.T) {
	bad := testParams()
	bad.Manning = 0
	nanPrev := Input{InflowPrev: math.NaN(), InflowNow: 1}
	cases := []struct {
		name string
		in   Input
		p    *channel.Params
		dt   float64
		want error
	}{
		{"nil params", Input{InflowNow: 1}, nil, 300, ErrInvalidParams},
		{"zero n", Input{InflowNow: 1}, bad, 300, ErrInvalidParams},
		{"zero dt", Input{InflowNow: 1}, testParams(), 0, ErrInvalidParams},
		{"nan inflow", nanPrev, testParams(), 300, ErrNonFinite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Route(tc.in, tc.p, tc.dt)
			if !errors.Is(err, tc.want) {
				t.Errorf("Route error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMuskingum(t *testing.T) {
	k, x := Muskingum(0, 10, 5, 0.001, 1000, 300)
	if k != 300 || x != 0.5 {
		t.Errorf("no celerity: k=%g x=%g, want 300 0.5", k, x)
	}
	k, x = Muskingum(2, 10, 5, 0.001, 1000, 300)
	if k != 500 {
		t.Errorf("k = %g, want dx/ck = 500", k)
	}
	if want := 0.5 * (1 - 5/(2*10*0.001*2*1000)); math.Abs(x-want) > 1e-12 {
		t.Errorf("x = %g, want %g", x, want)
	}
	k, _ = Muskingum(20, 10, 5, 0.001, 1000, 300)
	if k != 300 {
		t.Errorf("k = %g, want floor at dt", k)
	}
	_, x = Muskingum(1, 1, 1e6, 0.001, 1000, 300)
	if x != 0 {
		t.Errorf("x = %g, want clamp at 0", x)
	}
}

func TestHydraulics(t *testing.T) {
	p := testParams() // z = 2, bankfull depth = (9-5)/(2*2) = 1
	if bfd := BankfullDepth(p); bfd != 1 {
		t.Fatalf("bankfull depth = %g, want 1", bfd)
	}

	g, ck, q := Hydraulics(p, 0.5)
	if want := (5 + 0.5*2) * 0.5; math.Abs(g.Area-want) > 1e-12 {
		t.Errorf("area = %g, want %g", g.Area, want)
	}
	if want := 5 + 2*0.5*math.Sqrt(5); math.Abs(g.WettedPerimeter-want) > 1e-12 {
		t.Errorf("wetted perimeter = %g, want %g", g.WettedPerimeter, want)
	}
	if g.AreaCC != 0 || ck <= 0 || q <= 0 {
		t.Errorf("in-bank: areaCC=%g ck=%g q=%g", g.AreaCC, ck, q)
	}

	g, ck, q2 := Hydraulics(p, 1.5)
	if want := 30 * 0.5; math.Abs(g.AreaCC-want) > 1e-12 {
		t.Errorf("compound area = %g, want %g", g.AreaCC, want)
	}
	if ck <= 0 || q2 <= q {
		t.Errorf("overbank: ck=%g q=%g (in-bank q=%g)", ck, q2, q)
	}

	if _, ck, q := Hydraulics(p, 0); ck != 0 || q != 0 {
		t.Errorf("dry: ck=%g q=%g, want 0", ck, q)
	}
}
