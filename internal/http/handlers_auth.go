package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/service"
)

// maxStatusWait bounds GET /auth/status?wait=1.
const maxStatusWait = 15 * time.Second

// SessionAPI is the subset of the session service the HTTP layer drives.
type SessionAPI interface {
	SignIn(ctx context.Context, email, password string) (domainauth.Identity, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	Current() *domainauth.Identity
}

// AuthHandlers provides HTTP handlers for the session lifecycle.
type AuthHandlers struct {
	Sessions SessionAPI
	Authz    AuthzAPI
	Logger   *slog.Logger
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

type statusResponse struct {
	Authenticated bool                 `json:"authenticated"`
	State         domainauth.State     `json:"state"`
	Role          domainauth.Role      `json:"role,omitempty"`
	Identity      *domainauth.Identity `json:"identity,omitempty"`
	Profile       *domainauth.Profile  `json:"profile,omitempty"`
	DisplayName   string               `json:"display_name,omitempty"`
	Error         string               `json:"error,omitempty"`
}

func newStatusResponse(s service.AuthzSnapshot) statusResponse {
	resp := statusResponse{
		Authenticated: s.Identity != nil,
		State:         s.State,
		Identity:      s.Identity,
		Profile:       s.Profile,
	}
	if s.Profile != nil {
		resp.Role = s.Profile.Role
	}
	if s.Identity != nil {
		resp.DisplayName = s.Profile.DisplayName(s.Identity.Email)
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

// SignIn handles POST /auth/sign-in.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	id, err := h.Sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"state":    h.Authz.Snapshot().State,
	})
}

// SignOut handles POST /auth/sign-out. Local state is always cleared; a provider
// failure is reported in the body alongside the 200.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"signed_out": true}
	if err := h.Sessions.SignOut(r.Context()); err != nil {
		h.logger().WarnContext(r.Context(), "provider sign-out failed", "error", err)
		resp["provider_error"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Sessions.ResetPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Status handles GET /auth/status. With ?wait=1 it blocks until the engine leaves Loading.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), maxStatusWait)
		defer cancel()
		if _, err := h.Authz.WaitSettled(ctx); err != nil {
			h.logger().DebugContext(r.Context(), "status wait ended before settle", "error", err)
		}
	}
	WriteJSON(w, http.StatusOK, newStatusResponse(h.Authz.Snapshot()))
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
