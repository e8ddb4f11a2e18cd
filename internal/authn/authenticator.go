// Package authn implements the credential side of the gateway: password
// hashing and verification, TOTP second factors with replay suppression,
// login failure tracking with lockout, and single-use password reset tokens.
//
// Counter and replay state lives in the shared store so every gateway
// instance sees the same lockout and replay decisions.
package authn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("authn")

var (
	authFailuresTotal metric.Int64Counter
	lockoutsTotal     metric.Int64Counter
)

func init() {
	meter := otel.Meter("authn")
	authFailuresTotal, _ = meter.Int64Counter("authn_failures_total",
		metric.WithDescription("Credential verifications rejected, by reason"))
	lockoutsTotal, _ = meter.Int64Counter("authn_lockouts_total",
		metric.WithDescription("Accounts locked after repeated failures"))
}

// Service bundles the credential operations behind one dependency set.
type Service struct {
	store         kv.Store
	hasher        *Hasher
	clock         domain.Clock
	logger        *slog.Logger
	maxAttempts   int
	lockoutWindow time.Duration
	resetTTL      time.Duration
	mfaIssuer     string
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Store  kv.Store
	Hasher *Hasher
	Clock  domain.Clock
	Logger *slog.Logger

	// MaxFailedAttempts failures inside LockoutWindow lock the account for
	// the remainder of the window.
	MaxFailedAttempts int
	LockoutWindow     time.Duration
	ResetTokenTTL     time.Duration
	MFAIssuer         string
}

// NewService creates the credential service. Zero-value limits fall back to
// the compiled defaults.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:         cfg.Store,
		hasher:        cfg.Hasher,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		maxAttempts:   cfg.MaxFailedAttempts,
		lockoutWindow: cfg.LockoutWindow,
		resetTTL:      cfg.ResetTokenTTL,
		mfaIssuer:     cfg.MFAIssuer,
	}
	if s.hasher == nil {
		s.hasher = NewHasher(DefaultHashParams)
	}
	if s.clock == nil {
		s.clock = domain.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = domain.MaxFailedLoginAttempts
	}
	if s.lockoutWindow <= 0 {
		s.lockoutWindow = domain.AccountLockoutDuration
	}
	if s.resetTTL <= 0 {
		s.resetTTL = domain.ResetTokenTTL
	}
	return s
}

// HashPassword derives a storable hash of a plaintext password.
func (s *Service) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}

// VerifyPassword checks a plaintext password against a stored hash.
// Mismatches return domain.ErrBadCredentials.
func (s *Service) VerifyPassword(ctx context.Context, password, encoded string) (VerifyResult, error) {
	res, err := s.hasher.Verify(password, encoded)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "bad_credentials")))
		return VerifyResult{}, err
	}
	return res, nil
}

// MFAIssuer returns the issuer name stamped on provisioning URIs.
func (s *Service) MFAIssuer() string { return s.mfaIssuer }

// VerifyMFACode validates a TOTP code and burns it. A code is accepted at
// most once inside the replay window, even across gateway instances racing
// on the same submission; the loser sees ErrMFAReplay.
//
// This operation is deliberately not idempotent. Retrying a verification
// re-presents the code and is indistinguishable from a replay.
func (s *Service) VerifyMFACode(ctx context.Context, secret domain.SecretString, code string) error {
	ctx, span := tracer.Start(ctx, "authn.VerifyMFACode")
	defer span.End()

	if !validTOTPCode(secret, code, s.clock.Now()) {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "mfa_bad_code")))
		return domain.ErrMFABadCode
	}

	// First writer wins: the counter both marks the code used and detects
	// prior use in one atomic step.
	uses, err := s.store.IncrWithWindow(ctx, mfaUsedKey(secret, code), domain.MFAReplayWindow)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if uses > 1 {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "mfa_replay")))
		s.logger.WarnContext(ctx, "authn.mfa_replay_blocked")
		return domain.ErrMFAReplay
	}

	s.logger.DebugContext(ctx, "authn.mfa_verified")
	return nil
}

func mfaUsedKey(secret domain.SecretString, code string) string {
	return "mfa_used/" + secret.Expose() + "/" + code
}

func failedAttemptsKey(username string) string {
	return "failed_attempts/" + username
}

func resetTokenKey(token string) string {
	return "reset_token/" + token
}
