package app

import (
	"errors"
	"fmt"
	"net/http"

	"snuwiki/api/internal/account"
	"snuwiki/api/internal/store"
)

// DomainError is the closed error taxonomy the HTTP layer maps to status
// codes. Service methods return these for expected failures and wrapped
// errors for everything else.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errInvalidSid(raw string) *DomainError {
	return domainError(http.StatusBadRequest, "invalid_sid", "Invalid document identifier", map[string]any{"sid": raw})
}

func errNotFound(docSid string) *DomainError {
	return domainError(http.StatusNotFound, "not_found", "Document not found", map[string]any{"sid": docSid})
}

func errNoReadPermission() *DomainError {
	return domainError(http.StatusForbidden, "no_read_permission", "Read not permitted", nil)
}

func errNoUpdatePermission() *DomainError {
	return domainError(http.StatusForbidden, "no_update_permission", "Update not permitted", nil)
}

func errInvalidUserIdxReq() *DomainError {
	return domainError(http.StatusForbidden, "invalid_user_idx_req", "A user document can only be claimed by its own account", nil)
}

func errUnsupportedType(typ string) *DomainError {
	return domainError(http.StatusBadRequest, "unsupported_type", "Unsupported document type", map[string]any{"type": typ})
}

// mapError translates an error into an HTTP response triple. Store
// validation sentinels become caller errors; everything unrecognized is a
// 500 so internals never leak.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name", "Document name must be non-empty", nil
	case errors.Is(err, store.ErrInvalidNameChar):
		return http.StatusBadRequest, "invalid_name_char", "Document name must not contain ':' or ';'", nil
	case errors.Is(err, account.ErrBadRequest):
		return http.StatusBadRequest, "invalid_credentials_req", "Email and password are required", nil
	case errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "Email already registered", nil
	case errors.Is(err, account.ErrBadCredentials):
		return http.StatusUnauthorized, "bad_credentials", "Invalid email or password", nil
	}
	return http.StatusInternalServerError, "db_error", "Server error", nil
}
