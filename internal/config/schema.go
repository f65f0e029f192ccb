package config

import (
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/channel"
)

// Config is the top-level YAML structure.
type Config struct {
	Version    string         `yaml:"version"`
	Network    NetworkConf    `yaml:"network"`
	Forcing    ForcingConf    `yaml:"forcing"`
	Simulation SimulationConf `yaml:"simulation"`
	Engine     EngineConf     `yaml:"engine"`
	Output     OutputConf     `yaml:"output"`
}

// NetworkConf says where reach connectivity and channel parameters come from.
type NetworkConf struct {
	Format string `yaml:"format"` // csv | inline
	Path   string `yaml:"path"`
	// ExternalOutlets turns references to reaches outside the network into
	// outlets instead of rejecting them.
	ExternalOutlets bool       `yaml:"external_outlets"`
	Columns         Columns    `yaml:"columns"`
	Reaches         []ReachDef `yaml:"reaches"`
}

// Columns maps flowpath attributes to CSV header names.
type Columns struct {
	ID          string `yaml:"id"`
	Downstream  string `yaml:"downstream"`
	Length      string `yaml:"length"`
	Manning     string `yaml:"n"`
	ManningCC   string `yaml:"n_cc"`
	Slope       string `yaml:"slope"`
	BottomWidth string `yaml:"bottom_width"`
	TopWidth    string `yaml:"top_width"`
	TopWidthCC  string `yaml:"top_width_cc"`
	SideSlope   string `yaml:"side_slope"`
	AreaSqKm    string `yaml:"area_sqkm"`
}

// ReachDef declares one reach inline.
type ReachDef struct {
	ID             string `yaml:"id"`
	Downstream     string `yaml:"toid"`
	channel.Params `yaml:",inline"`
}

// ForcingConf says where lateral inflow comes from.
type ForcingConf struct {
	Format string `yaml:"format"` // csv | constant
	Dir    string `yaml:"dir"`
	Column string `yaml:"column"`
	// AreaConversion treats values as m/h of runoff over the catchment area.
	AreaConversion bool               `yaml:"area_conversion"`
	AllowMissing   bool               `yaml:"allow_missing"`
	Workers        int                `yaml:"workers"`
	Constant       map[string]float64 `yaml:"constant"`
}

// SimulationConf fixes the time axis of a run.
type SimulationConf struct {
	Start            time.Time `yaml:"start"`
	ForcingIntervalS int       `yaml:"forcing_interval_s"`
	Substeps         int       `yaml:"substeps"`
	Steps            int       `yaml:"steps"` // 0 = every step the forcing holds
}

// Interval returns the forcing step length.
func (s SimulationConf) Interval() time.Duration {
	return time.Duration(s.ForcingIntervalS) * time.Second
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Workers           int `yaml:"workers"`
	ParallelThreshold int `yaml:"parallel_threshold"`
	SinkQueue         int `yaml:"sink_queue"`
	MaxRuns           int `yaml:"max_runs"`
}

// OutputConf selects the result sink.
type OutputConf struct {
	Format string `yaml:"format"` // csv | jsonl | memory
	Path   string `yaml:"path"`
	Select string `yaml:"select"`
}
