package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/mcroute/internal/config"
	"github.com/gyaneshwarpardhi/mcroute/internal/engine"
	"github.com/gyaneshwarpardhi/mcroute/internal/network"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// which disables config reload.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/runs", h.startRun)
	h.mux.HandleFunc("GET /v1/runs", h.listRuns)
	h.mux.HandleFunc("GET /v1/runs/{id}", h.getRun)
	h.mux.HandleFunc("POST /v1/runs/{id}/cancel", h.cancelRun)
	h.mux.HandleFunc("GET /v1/runs/{id}/results", h.runResults)
	h.mux.HandleFunc("GET /v1/network", h.getNetwork)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/runs: start a simulation in the background.
func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var opts engine.RunOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if opts.Steps < 0 {
		writeError(w, http.StatusBadRequest, "steps must not be negative")
		return
	}
	run, err := h.eng.Start(opts)
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, engine.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run.Info())
}

// GET /v1/runs: every known run, oldest first.
func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": h.eng.List()})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*engine.Run, bool) {
	id := r.PathValue("id")
	run, ok := h.eng.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
	}
	return run, ok
}

// GET /v1/runs/{id}
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, run.Info())
	}
}

// POST /v1/runs/{id}/cancel: stop at the next step boundary.
func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.eng.Cancel(run.ID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, run.Info())
}

// GET /v1/runs/{id}/results: results of runs with memory output. With
// ?reach=ID only that reach's outflow series is returned.
func (h *Handler) runResults(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	mem, ok := run.Memory()
	if !ok {
		writeError(w, http.StatusConflict, "run output is not kept in memory")
		return
	}
	if reach := r.URL.Query().Get("reach"); reach != "" {
		series := mem.Outflow(reach)
		if series == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no results for reach %q", reach))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"reach": reach, "outflow": series})
		return
	}
	snaps := mem.Snapshots()
	steps := make([]interface{}, len(snaps))
	for i, s := range snaps {
		steps[i] = jsonSafe(s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": run.ID, "steps": steps})
}

type networkResponse struct {
	Source     string          `json:"source"`
	LoadedAt   time.Time       `json:"loaded_at"`
	Reaches    int             `json:"reaches"`
	Levels     []int           `json:"level_sizes"`
	Outlets    []string        `json:"outlets"`
	Headwaters []string        `json:"headwaters"`
	Nodes      []*network.Node `json:"nodes,omitempty"`
}

// GET /v1/network: topology summary; ?nodes=true adds every reach.
func (h *Handler) getNetwork(w http.ResponseWriter, r *http.Request) {
	s := h.eng.Setup()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, engine.ErrNotReady.Error())
		return
	}
	topo := s.Network.Topology
	resp := networkResponse{
		Source:     s.Network.Source,
		LoadedAt:   s.Network.LoadedAt,
		Reaches:    topo.Len(),
		Outlets:    topo.Outlets(),
		Headwaters: topo.Headwaters(),
	}
	for _, l := range topo.Levels() {
		resp.Levels = append(resp.Levels, len(l))
	}
	if r.URL.Query().Get("nodes") == "true" {
		for i := 0; i < topo.Len(); i++ {
			resp.Nodes = append(resp.Nodes, topo.At(i))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /v1/config/reload: re-read the config and rebuild the network.
// Runs in progress keep the network they started with.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotImplemented, "no config file to reload")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s, err := h.eng.Reload(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
		"reaches":  s.Network.Topology.Len(),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 until a network is loaded.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if !h.eng.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "no network"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ready",
		"active_runs": h.eng.ActiveRuns(),
	})
}
