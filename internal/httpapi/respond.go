package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"inshop.app/internal/auth"
	"inshop.app/internal/obs"
)

const maxJSONBody = 1 << 20

var errEmptyBody = errors.New("request body is required")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	StatusCode int               `json:"statusCode"`
	Message    string            `json:"message"`
	Error      string            `json:"error"`
	Details    []auth.FieldError `json:"details,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
}

// WriteJSON encodes v with status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorBody whose error label is the status text.
func WriteError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	WriteJSON(w, code, ErrorBody{
		StatusCode: code,
		Message:    msg,
		Error:      http.StatusText(code),
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, verr *auth.ValidationError) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{
		StatusCode: http.StatusBadRequest,
		Message:    "validation failed",
		Error:      http.StatusText(http.StatusBadRequest),
		Details:    verr.Fields,
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

// writeAuthError maps auth errors to fixed, non-leaking responses.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, r, verr)
	case errors.Is(err, auth.ErrInvalidInput):
		WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		WriteError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		WriteError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAccountDeactivated):
		WriteError(w, r, http.StatusUnauthorized, "account is deactivated")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		WriteError(w, r, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrExpiredOrRevokedToken):
		WriteError(w, r, http.StatusUnauthorized, "refresh token expired or revoked")
	case errors.Is(err, auth.ErrTokenVerification):
		writeUnauthorized(w, r, "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		WriteError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "resource not found")
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		WriteError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="inshop"`)
	WriteError(w, r, http.StatusUnauthorized, msg)
}

// decodeJSON reads exactly one JSON document, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
