package prom

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, s *Sink) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestSink_CountGaugeTiming(t *testing.T) {
	s := NewSink("astracore", nil)

	s.Count("auth.session.op", 1, map[string]string{"op": "sign_in", "result": "success"})
	s.Count("auth.session.op", 2, map[string]string{"result": "success", "op": "sign_in"})
	s.Gauge("authz.state", 2, nil)
	s.Timing("authz.profile_load.duration", 20*time.Millisecond, map[string]string{"to": "authorized"})

	body := scrape(t, s)
	assert.Contains(t, body, `astracore_auth_session_op_total{op="sign_in",result="success"} 3`)
	assert.Contains(t, body, "astracore_authz_state 2")
	assert.Contains(t, body, `astracore_authz_profile_load_duration_seconds_count{to="authorized"} 1`)
}

func TestSink_LabelMismatchDropped(t *testing.T) {
	s := NewSink("astracore", nil)

	s.Count("authz.permission.denied", 1, map[string]string{"permission": "VIEW_FINANCES"})
	s.Count("authz.permission.denied", 1, map[string]string{"reason": "x"})

	body := scrape(t, s)
	assert.Contains(t, body, `astracore_authz_permission_denied_total{permission="VIEW_FINANCES"} 1`)
	assert.NotContains(t, body, `reason="x"`)
	assert.True(t, s.warned["authz_permission_denied_total"])
}

func TestHTTPMetrics_Instrument(t *testing.T) {
	s := NewSink("astracore", nil)
	m := NewHTTPMetrics(s)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := m.Instrument(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, s)
	assert.Contains(t, body, `astracore_http_requests_total{method="GET",route="GET /ping",status="418"} 1`)
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "auth_session_op", metricName("auth.session.op"))
	assert.Equal(t, "a_b_c", metricName(" a-b/c "))
	assert.Equal(t, "", metricName("..."))
}
