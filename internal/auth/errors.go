package auth

import (
	"errors"
	"strings"
)

var (
	ErrNotFound              = errors.New("auth: not found")
	ErrInvalidInput          = errors.New("auth: invalid input")
	ErrDuplicateEmail        = errors.New("auth: email already registered")
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrAccountDeactivated    = errors.New("auth: account deactivated")
	ErrInvalidRefreshToken   = errors.New("auth: invalid refresh token")
	ErrExpiredOrRevokedToken = errors.New("auth: refresh token expired or revoked")
	ErrForbidden             = errors.New("auth: forbidden")
	ErrTokenVerification     = errors.New("auth: token verification failed")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field-level problem found in one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "auth: invalid input: " + strings.Join(parts, "; ")
}

// Is lets callers match any validation failure with ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// TokenReason tells why a signed token was rejected.
type TokenReason string

const (
	ReasonExpired          TokenReason = "expired"
	ReasonInvalidSignature TokenReason = "invalid_signature"
	ReasonMalformed        TokenReason = "malformed"
)

// TokenError is returned by Issuer.Verify. All reasons match ErrTokenVerification.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "auth: token " + string(e.Reason) + ": " + e.Err.Error()
	}
	return "auth: token " + string(e.Reason)
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool {
	return target == ErrTokenVerification
}
