package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Credential verification errors (ADR-015)
	ErrBadCredentials = errors.New("invalid credentials")
	ErrAccountLocked  = errors.New("account is locked")
	ErrMFARequired    = errors.New("multi-factor authentication required")
	ErrMFABadCode     = errors.New("invalid one-time code")
	ErrMFAReplay      = errors.New("one-time code already used")

	// Token verification errors. Each cause keeps its own identity so audit
	// records can name it; the boundary collapses them all to a single
	// authentication failure (ADR-013 §2).
	ErrTokenExpired      = errors.New("token has expired")
	ErrTokenBadSignature = errors.New("token signature is invalid")
	ErrTokenWrongType    = errors.New("unexpected token type")
	ErrTokenRevoked      = errors.New("token has been revoked")
	ErrTokenMalformed    = errors.New("malformed token")

	// Session verification errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")

	// ErrAuthRequired marks requests that presented no identity at all.
	ErrAuthRequired = errors.New("authentication required")

	// Authorization errors
	ErrAccessDenied   = errors.New("access denied by policy")
	ErrStepUpRequired = errors.New("additional verification required")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")

	// Operational errors
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry (ADR-009 Tier classification).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// authnErrors enumerates all domain errors that mean the caller failed to
// prove who they are.
var authnErrors = []error{
	ErrAuthRequired,
	ErrBadCredentials,
	ErrAccountLocked,
	ErrMFARequired,
	ErrMFABadCode,
	ErrMFAReplay,
	ErrTokenExpired,
	ErrTokenBadSignature,
	ErrTokenWrongType,
	ErrTokenRevoked,
	ErrTokenMalformed,
	ErrSessionNotFound,
	ErrSessionExpired,
}

// IsAuthnFailure returns true if the error represents an authentication
// failure. Callers outside the trust boundary must see these as one
// indistinguishable failure; the per-cause identity exists for auditing.
func IsAuthnFailure(err error) bool {
	for _, target := range authnErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// tokenErrors enumerates the token verification failures.
var tokenErrors = []error{
	ErrTokenExpired,
	ErrTokenBadSignature,
	ErrTokenWrongType,
	ErrTokenRevoked,
	ErrTokenMalformed,
}

// IsTokenFailure returns true if the error came from token verification.
func IsTokenFailure(err error) bool {
	for _, target := range tokenErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrNotFound,
	ErrAlreadyExists,
	ErrAccessDenied,
	ErrBadCredentials,
	ErrEmptyID,
	ErrInvalidID,
	ErrMFABadCode,
	ErrMFAReplay,
	ErrSessionNotFound,
	ErrSessionExpired,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsPermissionDenied returns true if the error represents a policy denial.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound)
}
