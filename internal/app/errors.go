package app

import (
	"fmt"
	"net/http"
)

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

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

// errInvalidCredentials is deliberately identical for unknown email and wrong
// password, so responses cannot be used for account enumeration.
func errInvalidCredentials() *DomainError {
	return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
}

func errMissingToken() *DomainError {
	return domainError(http.StatusUnauthorized, "MISSING_TOKEN", "Refresh token is missing", nil)
}

func errInvalidSession() *DomainError {
	return domainError(http.StatusUnauthorized, "INVALID_SESSION", "Session is invalid or expired", nil)
}

func errForbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errNotFound(message string) *DomainError {
	if message == "" {
		message = "Not found"
	}
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errConflict(code, message string, details any) *DomainError {
	return domainError(http.StatusConflict, code, message, details)
}

func errGone(message string) *DomainError {
	return domainError(http.StatusGone, "INVITE_EXPIRED", message, nil)
}

func errInternal(message string) *DomainError {
	if message == "" {
		message = "Server error"
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", message, nil)
}
