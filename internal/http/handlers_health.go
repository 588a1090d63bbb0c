package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

const healthResponse = `{"status":"ok"}`

// HealthChecker probes the profile store.
type HealthChecker interface {
	Check(ctx context.Context) (time.Duration, error)
}

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// readyHandler reports 200 when the profile store answers, 503 otherwise.
func readyHandler(probe HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "not_configured"})
			return
		}
		latency, err := probe.Check(r.Context())
		if err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": err.Error(),
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"latency_ms": latency.Milliseconds(),
		})
	}
}
