package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/forcing"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

const engineYAML = `
version: v1
network:
  format: inline
  reaches:
    - {id: a, toid: c, length: 500, slope: 0.004, n: 0.035, bottom_width: 5, top_width: 9, top_width_cc: 30, side_slope: 0.5}
    - {id: b, toid: c, length: 700, slope: 0.003, n: 0.035, bottom_width: 4, top_width: 8, top_width_cc: 25, side_slope: 0.5}
    - {id: c, length: 900, slope: 0.002, n: 0.04, bottom_width: 8, top_width: 14, top_width_cc: 40, side_slope: 0.5}
forcing:
  format: constant
  constant: {a: 2.0, b: 1.0, c: 0.5}
simulation:
  forcing_interval_s: 900
  substeps: 3
  steps: 8
engine:
  workers: 2
  parallel_threshold: 1
  sink_queue: 4
output:
  format: memory
  select: reach.outlet == true
`

func testSetup(t *testing.T, yaml string) *Setup {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s, err := NewSetup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSetup: %v", err)
	}
	return s
}

func TestEngine_RunSync(t *testing.T) {
	e := New(context.Background(), testSetup(t, engineYAML), nil)
	run, err := e.RunSync(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	info := run.Info()
	if info.Status != RunSucceeded || info.Summary.Done != 8 || info.FinishedAt == nil {
		t.Errorf("info = %+v", info)
	}
	mem, ok := run.Memory()
	if !ok {
		t.Fatal("memory output not retained")
	}
	snaps := mem.Snapshots()
	if len(snaps) != 8 {
		t.Fatalf("snapshots = %d, want 8", len(snaps))
	}
	if got := strings.Join(snaps[0].Reaches, ","); got != "c" {
		t.Errorf("projected reaches = %q, want only the outlet", got)
	}
	if snaps[0].RunID != run.ID {
		t.Errorf("snapshot run id = %q, want %q", snaps[0].RunID, run.ID)
	}
	if q := mem.Outflow("c"); q[7] <= q[0] || q[7] > 3.5+1e-9 {
		t.Errorf("outlet series = %v", q)
	}
}

func TestEngine_StepsOverride(t *testing.T) {
	e := New(context.Background(), testSetup(t, engineYAML), nil)
	run, err := e.RunSync(context.Background(), RunOptions{Steps: 3})
	if err != nil {
		t.Fatal(err)
	}
	if run.Info().Summary.Done != 3 {
		t.Errorf("done = %d, want 3", run.Info().Summary.Done)
	}
}

func TestEngine_NotReady(t *testing.T) {
	e := New(context.Background(), nil, nil)
	if e.Ready() {
		t.Error("engine without setup reports ready")
	}
	if _, err := e.Start(RunOptions{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Start = %v, want ErrNotReady", err)
	}
}

// blockingSetup returns a setup whose forcing waits for release before the
// run can begin routing.
func blockingSetup(t *testing.T, release <-chan struct{}) *Setup {
	s := testSetup(t, engineYAML)
	inner := s.Forcing
	s.Forcing = func(ctx context.Context, n *Network) (forcing.Source, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return inner(ctx, n)
	}
	return s
}

func TestEngine_BusyAndCancel(t *testing.T) {
	release := make(chan struct{})
	e := New(context.Background(), blockingSetup(t, release), nil)

	first, err := e.Start(RunOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Start(RunOptions{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if got, ok := e.Get(first.ID); !ok || got != first {
		t.Errorf("Get(%s) = %v, %v", first.ID, got, ok)
	}
	if err := e.Cancel(first.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not finish")
	}
	if st := first.Info().Status; st != RunCancelled {
		t.Errorf("status = %v, want cancelled", st)
	}
	if err := e.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Cancel unknown = %v", err)
	}

	close(release)
	second, err := e.Start(RunOptions{})
	if err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	e.Wait()
	if st := second.Info().Status; st != RunSucceeded {
		t.Errorf("second run status = %v (%s)", st, second.Info().Error)
	}
	list := e.List()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("List = %+v", list)
	}
}

func TestEngine_FailedRunReportsReach(t *testing.T) {
	s := testSetup(t, engineYAML)
	r, _ := s.Network.Topology.Index("b")
	s.Network.Params.At(r).BottomWidth = -2
	e := New(context.Background(), s, nil)

	run, err := e.RunSync(context.Background(), RunOptions{})
	if err == nil {
		t.Fatal("expected routing failure")
	}
	info := run.Info()
	if info.Status != RunFailed || info.FailedReach != "b" || info.FailedStep == nil || *info.FailedStep != 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestEngine_SwapSetupAffectsNewRuns(t *testing.T) {
	e := New(context.Background(), testSetup(t, engineYAML), nil)
	swapped := testSetup(t, strings.Replace(engineYAML, "steps: 8", "steps: 2", 1))
	e.SwapSetup(swapped)
	if e.Setup() != swapped {
		t.Fatal("setup not swapped")
	}
	run, err := e.RunSync(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Info().Summary.Done != 2 {
		t.Errorf("done = %d, want 2", run.Info().Summary.Done)
	}
}

func TestNewSetup_CSVSources(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("flowpaths.csv", `id,toid,Length_m,n,nCC,So,BtmWdth,TopWdth,TopWdthCC,ChSlp,areasqkm
wb-1,wb-2,1000,0.035,0.07,0.002,5,9,30,0.5,3.6
wb-2,nex-9,1200,0.04,0.08,0.001,8,14,40,0.5,1.8
`)
	write(forcing.FileName("wb-1"), "i,time,q_lateral\n0,t0,0.001\n1,t1,0.002\n2,t2,0.001\n")
	write(forcing.FileName("wb-2"), "i,time,q_lateral\n0,t0,0.0\n1,t1,0.001\n2,t2,0.0\n")
	out := filepath.Join(dir, "out", "{run}.csv")
	cfgYAML := `
version: v1
network: {path: ` + filepath.Join(dir, "flowpaths.csv") + `, external_outlets: true}
forcing: {dir: ` + dir + `, column: q_lateral, area_conversion: true}
simulation: {forcing_interval_s: 3600, substeps: 12}
output: {format: csv, path: ` + out + `}
`
	s := testSetup(t, cfgYAML)
	if got := s.Network.Topology.Outlets(); len(got) != 1 || got[0] != "wb-2" {
		t.Errorf("outlets = %v", got)
	}

	src, err := s.Forcing(context.Background(), s.Network)
	if err != nil {
		t.Fatalf("Forcing: %v", err)
	}
	if q, _ := src.Lateral("wb-1", 1); q < 1.999 || q > 2.001 {
		t.Errorf("converted lateral = %v, want 2 m3/s", q)
	}

	e := New(context.Background(), s, nil)
	run, err := e.RunSync(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out", run.ID+".csv"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 1+3*2 {
		t.Errorf("output has %d lines, want header + 6 rows:\n%s", lines, data)
	}
}

func TestNewNetwork_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "cycle",
			yaml: "version: v1\nnetwork: {format: inline, reaches: [{id: a, toid: b, length: 1, slope: 0.1, n: 0.1, bottom_width: 1}, {id: b, toid: a, length: 1, slope: 0.1, n: 0.1, bottom_width: 1}]}\nforcing: {format: constant}\nsimulation: {steps: 1}\noutput: {format: memory}",
			want: network.ErrCycleDetected,
		},
		{
			name: "dangling",
			yaml: "version: v1\nnetwork: {format: inline, reaches: [{id: a, toid: z, length: 1, slope: 0.1, n: 0.1, bottom_width: 1}]}\nforcing: {format: constant}\nsimulation: {steps: 1}\noutput: {format: memory}",
			want: network.ErrDanglingReference,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tc.yaml))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := NewSetup(context.Background(), cfg); !errors.Is(err, tc.want) {
				t.Errorf("NewSetup = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEngine_Reload(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(engineYAML))
	if err != nil {
		t.Fatal(err)
	}
	e := New(ctx, nil, nil)
	s1, err := e.Reload(ctx, cfg)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !e.Ready() || e.Setup() != s1 {
		t.Fatal("setup not installed")
	}
	s2, err := e.Reload(ctx, cfg)
	if err != nil || s2 != s1 {
		t.Errorf("reloading the same config rebuilt the setup")
	}

	bad, err := config.Parse([]byte(strings.Replace(engineYAML, "{id: c,", "{id: c, toid: a,", 1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Reload(ctx, bad); !errors.Is(err, network.ErrCycleDetected) {
		t.Errorf("Reload(cycle) = %v, want ErrCycleDetected", err)
	}
	if e.Setup() != s1 {
		t.Error("failed reload replaced the setup")
	}
}
