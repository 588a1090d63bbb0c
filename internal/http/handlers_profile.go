package httpx

import (
	"context"
	"net/http"
	"strings"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/service"
)

// AuthzAPI is the subset of the authorization engine the HTTP layer reads.
type AuthzAPI interface {
	Snapshot() service.AuthzSnapshot
	Explain(p domainauth.Permission) domainauth.Decision
	Permissions() []domainauth.Permission
	UpdateProfile(ctx context.Context, upd domainauth.ProfileUpdate) (domainauth.Profile, error)
	Table() *domainauth.PermissionTable
	WaitSettled(ctx context.Context) (domainauth.State, error)
}

// ProfileHandlers serves the signed-in user's profile and permissions.
type ProfileHandlers struct {
	Authz AuthzAPI
}

type decisionResponse struct {
	Permission domainauth.Permission `json:"permission"`
	Allowed    bool                  `json:"allowed"`
	Reason     string                `json:"reason"`
	Role       domainauth.Role       `json:"role,omitempty"`
}

// GetProfile handles GET /me/profile.
func (h *ProfileHandlers) GetProfile(w http.ResponseWriter, _ *http.Request) {
	snap := h.Authz.Snapshot()
	if snap.Profile == nil || snap.Identity == nil {
		writeStateGate(w, snap.State)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"profile":      snap.Profile,
		"display_name": snap.Profile.DisplayName(snap.Identity.Email),
		"role_label":   snap.Profile.Role.DisplayName(),
	})
}

// UpdateProfile handles PATCH /me/profile. Only the self-service fields are accepted;
// a body naming any other field (role included) is rejected.
func (h *ProfileHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd domainauth.ProfileUpdate
	if !DecodeJSON(w, r, &upd) {
		return
	}
	p, err := h.Authz.UpdateProfile(r.Context(), upd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"profile": p})
}

// ListPermissions handles GET /me/permissions.
func (h *ProfileHandlers) ListPermissions(w http.ResponseWriter, _ *http.Request) {
	perms := h.Authz.Permissions()
	if perms == nil {
		perms = []domainauth.Permission{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"state":       h.Authz.Snapshot().State,
		"permissions": perms,
	})
}

// ExplainPermission handles GET /me/permissions/{permission}. It answers in every
// state; a denial is a 200 carrying the reason.
func (h *ProfileHandlers) ExplainPermission(w http.ResponseWriter, r *http.Request) {
	p := domainauth.Permission(strings.ToUpper(strings.TrimSpace(r.PathValue("permission"))))
	d := h.Authz.Explain(p)
	WriteJSON(w, http.StatusOK, decisionResponse{
		Permission: d.Permission,
		Allowed:    d.Allowed,
		Reason:     d.ReasonText(),
		Role:       d.Role,
	})
}

// PermissionTable handles GET /permissions.
func (h *ProfileHandlers) PermissionTable(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"permissions": h.Authz.Table().Entries()})
}
