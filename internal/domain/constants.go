package domain

import "time"

// Normative limits from ADR-009 (Failure Handling) and ADR-015 (Credential
// Lifecycle). These are compiled defaults that can be overridden via
// configuration where a config key exists.
const (
	// Token lifetimes (ADR-015)
	AccessTokenTTL  = 15 * time.Minute    // JWT access token validity
	RefreshTokenTTL = 7 * 24 * time.Hour  // Refresh token validity (7 days)

	// Login throttling (ADR-013 §4.1)
	MaxFailedLoginAttempts = 5                // Failures before lockout
	AccountLockoutDuration = 30 * time.Minute // Lockout and failure-counter window

	// Request throttling, per client address (ADR-013 §4.2)
	RateLimitPerMinute = 60
	RateLimitPerHour   = 1000

	// One-time codes
	TOTPPeriod      = 30 * time.Second // TOTP step size
	TOTPSkew        = 1                // Accepted steps either side of now
	MFAReplayWindow = 30 * time.Second // Accepted-code replay guard TTL

	// Password reset
	ResetTokenTTL = 1 * time.Hour

	// Sessions
	SessionTimeout         = 30 * time.Minute // Inactivity timeout, sliding
	SessionFreshnessWindow = 5 * time.Minute  // Default max age for "fresh" checks

	// Device trust
	DeviceRecordTTL       = 30 * 24 * time.Hour // Device record re-armed on each sighting
	InitialTrustScore     = 50
	MaxTrustScore         = 100
	TrustedScoreThreshold = 70 // Score at which a device becomes trusted

	// Risk analysis windows
	VelocityWindow       = 60 * time.Second    // Request velocity counter window
	VelocityThreshold    = 30                  // Requests per window before rapid_requests fires
	KnownLocationsTTL    = 90 * 24 * time.Hour // Known-location set lifetime, re-armed on sighting
	LastLocationTTL      = 1 * time.Hour       // Most-recent-location record lifetime
	GeoMismatchWindow    = 6 * time.Hour       // Country change inside this window is implausible
	RiskHistoryLimit     = 100                 // Scores retained per user
	RiskHistoryTTL       = 30 * 24 * time.Hour
	HighTransactionLimit = 10000.0 // Amount above which a transaction is high value
	FailedAttemptsRisk   = 3       // Recent failures at which risk indicator fires

	// Unusual-hour window, inclusive, seconds since local midnight (01:00-06:00).
	UnusualHoursStart = 1 * 3600
	UnusualHoursEnd   = 6 * 3600

	// Risk thresholds (score is clamped to 0..100)
	RiskThresholdLow    = 30 // Below: low
	RiskThresholdMedium = 60 // Below: medium
	RiskThresholdHigh   = 80 // Below: high; at or above: critical
	StepUpRiskScore     = 80 // Allowed decisions above this require step-up

	// Audit retention
	AuditRetention  = 365 * 24 * time.Hour // Daily audit streams
	UserEventsLimit = 1000                 // Per-user event trail length

	// Timeout contracts (ADR-009 §1)
	RedisTimeout = 2 * time.Second // Max time for key/value store operations

	// Graceful shutdown (ADR-014 §4.1)
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second
)

// RiskLevel buckets a risk score for policy conditions and audit records.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValidRiskLevel checks if a risk level is one of the four buckets.
func IsValidRiskLevel(rl RiskLevel) bool {
	switch rl {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// RiskLevelFor buckets a score using the given thresholds. A score below
// low is RiskLow, below medium is RiskMedium, below high is RiskHigh, and
// everything at or above high is RiskCritical.
func RiskLevelFor(score, low, medium, high int) RiskLevel {
	switch {
	case score < low:
		return RiskLow
	case score < medium:
		return RiskMedium
	case score < high:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// IsValidTokenType checks if a token type is supported.
func IsValidTokenType(tt TokenType) bool {
	return tt == TokenTypeAccess || tt == TokenTypeRefresh
}

// StepUpMethods lists the additional verification methods offered when an
// allowed decision carries critical risk. Order is part of the contract.
var StepUpMethods = []string{"mfa", "security_question"}

// DefaultRoles is assigned to new identities that specify no roles.
var DefaultRoles = []string{"account_holder"}
