package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultColumns are the flowpath attribute names of a NextGen hydrofabric
// export.
var DefaultColumns = Columns{
	ID:          "id",
	Downstream:  "toid",
	Length:      "Length_m",
	Manning:     "n",
	ManningCC:   "nCC",
	Slope:       "So",
	BottomWidth: "BtmWdth",
	TopWidth:    "TopWdth",
	TopWidthCC:  "TopWdthCC",
	SideSlope:   "ChSlp",
	AreaSqKm:    "areasqkm",
}

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory so that editors which replace the file are seen.
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous config", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	slog.Info("config loaded", "path", l.path, "version", cfg.Version)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", l.path, err)
	}
	cfg.resolvePaths(filepath.Dir(l.path))
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network.Format == "" {
		c.Network.Format = "csv"
	}
	col := &c.Network.Columns
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&col.ID, DefaultColumns.ID},
		{&col.Downstream, DefaultColumns.Downstream},
		{&col.Length, DefaultColumns.Length},
		{&col.Manning, DefaultColumns.Manning},
		{&col.ManningCC, DefaultColumns.ManningCC},
		{&col.Slope, DefaultColumns.Slope},
		{&col.BottomWidth, DefaultColumns.BottomWidth},
		{&col.TopWidth, DefaultColumns.TopWidth},
		{&col.TopWidthCC, DefaultColumns.TopWidthCC},
		{&col.SideSlope, DefaultColumns.SideSlope},
		{&col.AreaSqKm, DefaultColumns.AreaSqKm},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
	if c.Forcing.Format == "" {
		c.Forcing.Format = "csv"
	}
	if c.Simulation.Start.IsZero() {
		c.Simulation.Start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.Simulation.ForcingIntervalS == 0 {
		c.Simulation.ForcingIntervalS = 3600
	}
	if c.Simulation.Substeps == 0 {
		c.Simulation.Substeps = 12
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Engine.ParallelThreshold == 0 {
		c.Engine.ParallelThreshold = 4
	}
	if c.Engine.SinkQueue == 0 {
		c.Engine.SinkQueue = 64
	}
	if c.Engine.MaxRuns == 0 {
		c.Engine.MaxRuns = 1
	}
	if c.Output.Format == "" {
		c.Output.Format = "csv"
	}
	if c.Output.Path == "" && c.Output.Format != "memory" {
		c.Output.Path = "network_routing_results." + c.Output.Format
	}
}

// resolvePaths makes relative data paths relative to the config file.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Network.Path, &c.Forcing.Dir, &c.Output.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}
