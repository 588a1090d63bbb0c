package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/observability/metrics"
)

// maxRequestIDLen bounds client-supplied request ids before they reach the logs.
const maxRequestIDLen = 128

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			}
			if id, ok := GetRequestIDFromContext(r.Context()); ok {
				attrs = append(attrs, slog.String("request_id", id))
			}
			logger.InfoContext(r.Context(), "http", attrs...)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID propagates X-Request-ID, generating one when the client sent none.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(SetRequestIDInContext(r.Context(), id)))
	})
}

// LimitBody caps request bodies at n bytes. Non-positive n disables the cap.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthorized rejects requests unless the engine holds an authorized profile.
// Unauthenticated yields 401; Loading and Error yield 503.
func RequireAuthorized(authz AuthzAPI) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !writeStateGate(w, authz.Snapshot().State) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns a middleware that requires the signed-in role to hold p.
// Denials are counted on sink.
func RequirePermission(authz AuthzAPI, p domainauth.Permission, sink metrics.Sink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !writeStateGate(w, authz.Snapshot().State) {
				return
			}
			d := authz.Explain(p)
			if !d.Allowed {
				metrics.EmitDenied(sink, d)
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "permission_denied",
					Err:     errors.New(string(p) + ": " + d.ReasonText()),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeStateGate writes the rejection for a non-authorized state and reports whether to continue.
func writeStateGate(w http.ResponseWriter, state domainauth.State) bool {
	switch state {
	case domainauth.StateAuthorized:
		return true
	case domainauth.StateUnauthenticated:
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
	case domainauth.StateLoading:
		w.Header().Set("Retry-After", "1")
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "profile_loading",
			Err:     errors.New("profile is loading"),
		})
	default:
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "profile_unavailable",
			Err:     errors.New("profile could not be loaded"),
		})
	}
	return false
}
