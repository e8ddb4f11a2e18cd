// Package errmap translates domain errors into transport responses. The
// REST layer renders what this package decides; services below it speak
// only domain errors.
package errmap

import (
	"errors"
	"net/http"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is).
var httpMappings = []httpMapping{
	// Resource errors
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},

	// Authentication errors (ADR-015). Everything that means "prove who
	// you are again" is a 401, including step-up on a risky request.
	{domain.ErrAuthRequired, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED"},
	{domain.ErrBadCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{domain.ErrAccountLocked, http.StatusUnauthorized, "ACCOUNT_LOCKED"},
	{domain.ErrMFARequired, http.StatusUnauthorized, "MFA_REQUIRED"},
	{domain.ErrMFABadCode, http.StatusUnauthorized, "INVALID_MFA_CODE"},
	{domain.ErrMFAReplay, http.StatusUnauthorized, "MFA_CODE_REUSED"},
	{domain.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{domain.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED"},
	{domain.ErrTokenBadSignature, http.StatusUnauthorized, "INVALID_TOKEN"},
	{domain.ErrTokenWrongType, http.StatusUnauthorized, "INVALID_TOKEN"},
	{domain.ErrTokenMalformed, http.StatusUnauthorized, "INVALID_TOKEN"},
	{domain.ErrSessionNotFound, http.StatusUnauthorized, "SESSION_NOT_FOUND"},
	{domain.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
	{domain.ErrStepUpRequired, http.StatusUnauthorized, "STEP_UP_REQUIRED"},

	// Permission errors
	{domain.ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED"},

	// Validation errors
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT"},

	// Rate limiting
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

	// Availability
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error. The message is
// the matched sentinel's own text, never the wrapped chain: operation
// context (usernames, key names, store details) belongs in the process
// log, not in a response body.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: m.err.Error()}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
