package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/observability/metrics"
	"github.com/astracore/astracore/internal/observability/prom"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sessions SessionAPI
	Authz    AuthzAPI
	// Optional: readiness probe. Nil reports the store as not configured.
	Health HealthChecker
	// Optional: sink for enforcement-point denials.
	Metrics metrics.Sink
	// Optional: exposes GET /metrics when set.
	Prometheus *prom.Sink
	// Non-positive disables the request body cap.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates the local API router.
func NewRouter(services RouterServices) http.Handler {
	if services.Sessions == nil || services.Authz == nil {
		panic("httpx: router requires Sessions and Authz") //nolint:forbidigo // programmer error at wiring time
	}
	mux := http.NewServeMux()
	limit := LimitBody(services.MaxBodyBytes)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Health))
	if services.Prometheus != nil {
		mux.Handle("GET /metrics", services.Prometheus.Handler())
	}

	registerAuthRoutes(mux, &AuthHandlers{
		Sessions: services.Sessions,
		Authz:    services.Authz,
		Logger:   services.Logger,
	}, limit)
	registerProfileRoutes(mux, &ProfileHandlers{Authz: services.Authz}, services, limit)

	return mux
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, limit func(http.Handler) http.Handler) {
	mux.Handle("POST /auth/sign-in", limit(http.HandlerFunc(h.SignIn)))
	mux.Handle("POST /auth/sign-out", http.HandlerFunc(h.SignOut))
	mux.Handle("POST /auth/reset-password", limit(http.HandlerFunc(h.ResetPassword)))
	mux.Handle("GET /auth/status", http.HandlerFunc(h.Status))
}

func registerProfileRoutes(
	mux *http.ServeMux,
	h *ProfileHandlers,
	services RouterServices,
	limit func(http.Handler) http.Handler,
) {
	authorized := RequireAuthorized(services.Authz)

	mux.Handle("GET /me/profile", authorized(http.HandlerFunc(h.GetProfile)))
	mux.Handle("PATCH /me/profile", authorized(limit(http.HandlerFunc(h.UpdateProfile))))
	mux.Handle("GET /me/permissions", http.HandlerFunc(h.ListPermissions))
	mux.Handle("GET /me/permissions/{permission}", http.HandlerFunc(h.ExplainPermission))
	mux.Handle("GET /permissions",
		RequirePermission(services.Authz, domainauth.PermSystemSettings, services.Metrics)(http.HandlerFunc(h.PermissionTable)))
}
