package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		method   string
		wantBody string
	}{
		{http.MethodGet, `{"status":"ok"}`},
		{http.MethodHead, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/healthz", nil)
			rec := httptest.NewRecorder()

			healthHandler(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected content-type application/json, got %q", ct)
			}
			if body := rec.Body.String(); body != tt.wantBody {
				t.Fatalf("unexpected body: %q", body)
			}
		})
	}
}

type fakeProbe struct {
	latency time.Duration
	err     error
}

func (p fakeProbe) Check(context.Context) (time.Duration, error) { return p.latency, p.err }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		probe      HealthChecker
		wantStatus int
		wantInBody string
	}{
		{"healthy", fakeProbe{latency: 3 * time.Millisecond}, http.StatusOK, `"latency_ms":3`},
		{"store down", fakeProbe{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "connection refused"},
		{"no probe", nil, http.StatusOK, "not_configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			readyHandler(tt.probe)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantInBody)
			}
		})
	}
}
