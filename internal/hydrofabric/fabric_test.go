package hydrofabric

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

const flowpaths = `id,toid,Length_m,n,nCC,So,BtmWdth,TopWdth,TopWdthCC,ChSlp,areasqkm
wb-1,wb-3,1000,0.035,0.07,0.002,5,9,30,0.5,1.2
wb-2,wb-3,800,0.035,,0.003,4,8,,0.5,0.8
wb-3,nex-99,1200,0.04,0.08,0.001,8,14,40,0.5,2.0
`

func TestReadCSV(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(flowpaths), config.DefaultColumns)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(f.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(f.Records))
	}
	if f.Records[0] != (network.Record{ID: "wb-1", Downstream: "wb-3"}) {
		t.Errorf("record 0 = %+v", f.Records[0])
	}
	want := channel.Params{Length: 800, Manning: 0.035, Slope: 0.003, BottomWidth: 4, TopWidth: 8, SideSlope: 0.5, AreaSqKm: 0.8}
	if got := f.Params["wb-2"]; got != want {
		t.Errorf("wb-2 = %+v, want %+v", got, want)
	}
	if a := f.Areas(); a["wb-3"] != 2.0 {
		t.Errorf("areas = %v", a)
	}
}

func TestReadCSV_Malformed(t *testing.T) {
	cases := map[string]string{
		"no id column":     "fid,toid,Length_m,n,So,BtmWdth,ChSlp\n",
		"missing required": "id,toid,n,So,BtmWdth,ChSlp\n",
		"empty id":         "id,toid,Length_m,n,So,BtmWdth,ChSlp\n,x,1,1,1,1,1\n",
		"duplicate id":     "id,toid,Length_m,n,So,BtmWdth,ChSlp\na,,1,1,1,1,1\na,,1,1,1,1,1\n",
		"not a number":     "id,toid,Length_m,n,So,BtmWdth,ChSlp\na,,long,1,1,1,1\n",
		"empty required":   "id,toid,Length_m,n,So,BtmWdth,ChSlp\na,,1,,1,1,1\n",
		"ragged row":       "id,toid,Length_m,n,So,BtmWdth,ChSlp\na,,1,1\n",
		"empty input":      "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(body), config.DefaultColumns)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("err = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowpaths.csv")
	if err := os.WriteFile(path, []byte(flowpaths), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cfg := config.NetworkConf{Format: "csv", Path: path, Columns: config.DefaultColumns}

	t.Run("dangling without external outlets", func(t *testing.T) {
		f, err := Load(ctx, cfg)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if _, err := network.Build(f.Records); !errors.Is(err, network.ErrDanglingReference) {
			t.Errorf("Build = %v, want ErrDanglingReference", err)
		}
	})

	t.Run("external outlets", func(t *testing.T) {
		c := cfg
		c.ExternalOutlets = true
		f, err := Load(ctx, c)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		topo, err := network.Build(f.Records)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if got := topo.Outlets(); len(got) != 1 || got[0] != "wb-3" {
			t.Errorf("outlets = %v", got)
		}
		if _, err := channel.NewStore(topo, f.Params); err != nil {
			t.Errorf("NewStore: %v", err)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		c := cfg
		c.Path = filepath.Join(dir, "missing.csv")
		if _, err := Load(ctx, c); !errors.Is(err, ErrSourceUnavailable) {
			t.Errorf("err = %v, want ErrSourceUnavailable", err)
		}
	})

	t.Run("inline", func(t *testing.T) {
		c := config.NetworkConf{Format: "inline", Reaches: []config.ReachDef{
			{ID: "a", Downstream: "b", Params: channel.Params{Length: 1}},
			{ID: "b"},
		}}
		f, err := Load(ctx, c)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(f.Records) != 2 || f.Params["a"].Length != 1 || f.Source != "inline" {
			t.Errorf("fabric = %+v", f)
		}
	})
}

func TestTrimExternal(t *testing.T) {
	f := &Fabric{Records: []network.Record{{ID: "a", Downstream: "b"}, {ID: "b", Downstream: "z"}, {ID: "c"}}}
	got := f.TrimExternal()
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("trimmed = %v", got)
	}
	if f.Records[0].Downstream != "b" || f.Records[1].Downstream != "" {
		t.Errorf("records = %+v", f.Records)
	}
}
