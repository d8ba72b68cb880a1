package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"inshop.app/internal/audit"
	"inshop.app/internal/auth"
)

type updateRoleRequest struct {
	Role     auth.Role `json:"role"`
	TenantID string    `json:"tenantId"`
}

var roleManagers = auth.Roles(auth.RoleSuperAdmin)

// handleUpdateRole changes a principal's global role, or its override inside
// tenantId when one is given. A tenant-scoped change is authorized against the
// caller's role in that tenant.
func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		WriteError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID != "" && tenantID != auth.TenantFromContext(r.Context()) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if _, err := a.resolver.Authorize(r.Context(), principal, tenantID, roleManagers); err != nil {
			writeAuthError(w, r, err)
			return
		}
	}
	view, err := a.resolver.SetRole(r.Context(), userID, tenantID, req.Role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.role.update", map[string]any{
		"target_user_id": userID,
		"role":           req.Role.String(),
		"tenant_id":      tenantID,
	})
	WriteJSON(w, http.StatusOK, view)
}
