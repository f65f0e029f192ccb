package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/mcroute/internal/state"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// jsonSafe copies a snapshot with non-finite values (failed reaches) as null.
func jsonSafe(s *state.Snapshot) map[string]interface{} {
	conv := func(v []float64) []interface{} {
		out := make([]interface{}, len(v))
		for i, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				continue
			}
			out[i] = x
		}
		return out
	}
	return map[string]interface{}{
		"step":     s.Step,
		"time":     s.Time,
		"reaches":  s.Reaches,
		"outflow":  conv(s.Outflow),
		"inflow":   conv(s.Inflow),
		"lateral":  conv(s.Lateral),
		"volume":   conv(s.Volume),
		"depth":    conv(s.Depth),
		"velocity": conv(s.Velocity),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
