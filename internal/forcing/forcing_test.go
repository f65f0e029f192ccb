package forcing

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadSeries(t *testing.T) {
	body := "idx, time, Q_OUT, other\n0, 2000-01-01 00:00:00, 1.5, 9\n1, 2000-01-01 01:00:00, 2.0, 9\n"
	tests := []struct {
		name   string
		column string
		scale  float64
		want   []float64
	}{
		{name: "default index", want: []float64{1.5, 2.0}, scale: 1},
		{name: "by name", column: "other", want: []float64{9, 9}, scale: 1},
		{name: "scaled", scale: 2, want: []float64{3, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadSeries(strings.NewReader(body), tc.column, tc.scale)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestReadSeries_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"empty":       "",
		"short row":   "a,b,c\n1,2\n",
		"not numeric": "a,b,c\n1,2,x\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadSeries(strings.NewReader(body), "", 1); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadSeries_UnknownColumn(t *testing.T) {
	body := "idx, time, Q_OUT\n0, t0, 1.5\n"
	_, err := ReadSeries(strings.NewReader(body), "q_out", 1)
	if err == nil || !strings.Contains(err.Error(), `"q_out"`) {
		t.Errorf("err = %v, want unknown column error", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName("1"), "i,t,q\n0,a,0.36\n1,b,0.72\n")
	writeFile(t, dir, FileName("2"), "i,t,q\n0,a,1\n1,b,2\n2,c,3\n")

	t.Run("area conversion", func(t *testing.T) {
		s, err := LoadDir(context.Background(), dir, []string{"1", "2"}, CSVOptions{
			Areas:   map[string]float64{"1": 0.01, "2": 3.6e-3},
			Workers: 2,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Len() != 2 {
			t.Errorf("Len = %d, want 2", s.Len())
		}
		q, ok := s.Lateral("1", 1)
		if !ok || math.Abs(q-2.0) > 1e-12 {
			t.Errorf("reach 1 step 1 = %v (%v), want 2.0", q, ok)
		}
		if q, _ := s.Lateral("2", 2); math.Abs(q-3.0) > 1e-12 {
			t.Errorf("reach 2 step 2 = %v, want 3.0", q)
		}
	})

	t.Run("area required", func(t *testing.T) {
		for name, areas := range map[string]map[string]float64{
			"absent": {"1": 0.01},
			"zero":   {"1": 0.01, "2": 0},
			"nan":    {"1": 0.01, "2": math.NaN()},
		} {
			_, err := LoadDir(context.Background(), dir, []string{"1", "2"}, CSVOptions{Areas: areas})
			if !errors.Is(err, ErrMissingForcing) || !strings.Contains(err.Error(), `"2"`) {
				t.Errorf("%s: err = %v, want ErrMissingForcing for reach 2", name, err)
			}
		}
	})

	t.Run("unknown column", func(t *testing.T) {
		if _, err := LoadDir(context.Background(), dir, []string{"1"}, CSVOptions{Column: "q_lat"}); err == nil {
			t.Error("expected error for a column missing from the header")
		}
	})

	t.Run("no files at all", func(t *testing.T) {
		_, err := LoadDir(context.Background(), dir, []string{"7", "8"}, CSVOptions{AllowMissing: true})
		if !errors.Is(err, ErrMissingForcing) {
			t.Errorf("err = %v, want ErrMissingForcing", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDir(context.Background(), dir, []string{"1", "3"}, CSVOptions{})
		if !errors.Is(err, ErrMissingForcing) {
			t.Fatalf("err = %v, want ErrMissingForcing", err)
		}
	})

	t.Run("missing allowed", func(t *testing.T) {
		s, err := LoadDir(context.Background(), dir, []string{"1", "3"}, CSVOptions{AllowMissing: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := s["3"]; ok {
			t.Error("absent reach should not have a series")
		}
		q, ok := ZeroFill{s}.Lateral("3", 0)
		if !ok || q != 0 {
			t.Errorf("ZeroFill = %v, %v", q, ok)
		}
	})
}

func TestFill(t *testing.T) {
	ids := []string{"a", "b"}
	dst := make([]float64, 2)

	if err := Fill(Constant{"a": 1, "b": 2}, ids, 7, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst[0] != 1 || dst[1] != 2 {
		t.Errorf("dst = %v", dst)
	}

	tests := []struct {
		name string
		src  Source
	}{
		{"absent reach", Constant{"a": 1}},
		{"past end", Series{"a": {1}, "b": {1}}},
		{"nan", Constant{"a": 1, "b": math.NaN()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Fill(tc.src, ids, 3, dst)
			if !errors.Is(err, ErrMissingForcing) {
				t.Errorf("err = %v, want ErrMissingForcing", err)
			}
		})
	}
}

func TestSeriesLen(t *testing.T) {
	if n := (Series{}).Len(); n != 0 {
		t.Errorf("empty Len = %d", n)
	}
	if n := (Series{"a": {1, 2, 3}, "b": {1, 2}}).Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	if n := (Constant{}).Len(); n != -1 {
		t.Errorf("Constant Len = %d, want -1", n)
	}
}
