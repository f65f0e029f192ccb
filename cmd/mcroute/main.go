package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/api"
	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "configs/mcroute.yaml", "Path to routing YAML config")
	addr := flag.String("addr", "", "HTTP listen address; empty runs one simulation and exits")
	steps := flag.Int("steps", 0, "Override the number of steps (run-once mode)")
	level := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Engine and network ───────────────────────────────────────────────────
	eng := engine.New(ctx, nil, logger)
	if _, err := eng.Reload(ctx, loader.Config()); err != nil {
		slog.Error("failed to build network", "err", err)
		os.Exit(1)
	}

	if *addr == "" {
		os.Exit(runOnce(ctx, eng, *steps))
	}
	serve(ctx, eng, loader, *addr)
}

// runOnce routes the configured simulation and prints its summary as JSON.
func runOnce(ctx context.Context, eng *engine.Engine, steps int) int {
	run, err := eng.RunSync(ctx, engine.RunOptions{Steps: steps})
	if err != nil {
		slog.Error("run not started", "err", err)
		return 1
	}
	info := run.Info()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(info)
	if info.Status != engine.RunSucceeded {
		return 1
	}
	return 0
}

func serve(ctx context.Context, eng *engine.Engine, loader *config.Loader, addr string) {
	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(cfg *config.Config) {
		if _, err := eng.Reload(context.Background(), cfg); err != nil {
			slog.Warn("hot-reload skipped: network build failed", "err", err)
		}
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(eng, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Wait()
	slog.Info("goodbye")
}
