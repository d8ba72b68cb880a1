package httpapi

import (
	"errors"
	"net/http"

	"inshop.app/internal/audit"
	"inshop.app/internal/auth"
	"inshop.app/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Register(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.sessionIssued(r, "register", session)
	WriteJSON(w, http.StatusCreated, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountDeactivated) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"reason": loginFailureReason(err)})
		}
		writeAuthError(w, r, err)
		return
	}
	a.sessionIssued(r, "login", session)
	WriteJSON(w, http.StatusOK, session)
}

func loginFailureReason(err error) string {
	if errors.Is(err, auth.ErrAccountDeactivated) {
		return "deactivated"
	}
	return "invalid_credentials"
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.sessionIssued(r, "refresh", session)
	WriteJSON(w, http.StatusOK, session)
}

func (a *API) handleOAuthExchange(w http.ResponseWriter, r *http.Request) {
	var req auth.OAuthAssertion
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.sessions.LoginWithOAuth(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.sessionIssued(r, "oauth", session)
	WriteJSON(w, http.StatusOK, session)
}

// handleLogout always answers 204 once the caller is authenticated.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.Logout(r.Context(), principal.ID, req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	view, err := a.sessions.Profile(r.Context(), principal.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeUnauthorized(w, r, "invalid or expired token")
			return
		}
		writeAuthError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (a *API) sessionIssued(r *http.Request, flow string, s auth.Session) {
	obs.IncSessions(flow)
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{ID: s.User.ID, Email: s.User.Email, Role: s.User.Role})
	_ = audit.LogEvent(ctx, "auth."+flow, map[string]any{"role": s.User.Role.String()})
}
