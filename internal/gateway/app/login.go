package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/device"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// LoginParams holds the inputs for a credential login.
type LoginParams struct {
	Username string
	Password string

	// MFACode is the TOTP code; required when the account has MFA enabled.
	MFACode string

	// DeviceID identifies the presenting device. When empty and DeviceInfo
	// is present, a fingerprint is derived from the info instead.
	DeviceID   string
	DeviceInfo map[string]string

	IPAddress string
	UserAgent string

	// Location is the client's coarse position in "country:city" form,
	// recorded on the session for later anomaly checks.
	Location string
}

// LoginResult is returned by Login on success.
type LoginResult struct {
	User          *identity.User
	SessionID     string
	AccessToken   string
	RefreshToken  string
	ExpiresIn     int
	MFAVerified   bool
	DeviceID      string
	DeviceTrusted bool
}

// Login runs the full credential flow: lockout check, password
// verification, MFA when the account has it enabled, device registration,
// session creation, and token issuance. Every failure is written to the
// audit trail before the error is returned.
//
// Unknown usernames, inactive accounts, and wrong passwords all surface as
// ErrBadCredentials so the response does not reveal which part failed.
func (s *Service) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "app.login")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if p.Username == "" || p.Password == "" {
		return nil, spanErr(span, fmt.Errorf("username and password are required: %w", domain.ErrInvalidInput))
	}

	locked, err := s.credentials.IsAccountLocked(ctx, p.Username)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if locked {
		s.auditLoginFailure(ctx, "", p, "account_locked")
		return nil, spanErr(span, domain.ErrAccountLocked)
	}

	user, err := s.users.GetByUsername(ctx, p.Username)
	if errors.Is(err, domain.ErrNotFound) {
		s.trackLoginFailure(ctx, nil, p, "unknown_user")
		return nil, spanErr(span, domain.ErrBadCredentials)
	}
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !user.Active {
		// Not a counted failure: the credentials may be right, the
		// account is just switched off.
		s.auditLoginFailure(ctx, user.ID, p, "account_inactive")
		return nil, spanErr(span, domain.ErrBadCredentials)
	}

	verify, err := s.credentials.VerifyPassword(ctx, p.Password, user.PasswordHash)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !verify.Verified {
		s.trackLoginFailure(ctx, user, p, "bad_password")
		return nil, spanErr(span, domain.ErrBadCredentials)
	}

	method := "password"
	mfaVerified := false
	if user.MFAEnabled {
		if p.MFACode == "" {
			s.auditLoginFailure(ctx, user.ID, p, "mfa_required")
			return nil, spanErr(span, domain.ErrMFARequired)
		}
		if err := s.credentials.VerifyMFACode(ctx, domain.SecretString(user.MFASecret), p.MFACode); err != nil {
			if domain.IsAuthnFailure(err) {
				s.trackLoginFailure(ctx, user, p, "bad_mfa_code")
			}
			return nil, spanErr(span, err)
		}
		method = "password_mfa"
		mfaVerified = true
	}

	if err := s.credentials.ClearFailedAttempts(ctx, p.Username); err != nil {
		logger.WarnContext(ctx, "clear failed attempts", slog.String("error", err.Error()))
	}

	// Hash parameters changed since the password was stored; upgrade it
	// while the cleartext is in hand. Login proceeds either way.
	if verify.RehashNeeded {
		if newHash, hashErr := s.credentials.HashPassword(p.Password); hashErr == nil {
			if setErr := s.users.SetPasswordHash(ctx, user.ID, newHash); setErr != nil {
				logger.WarnContext(ctx, "password rehash failed", slog.String("error", setErr.Error()))
			}
		}
	}

	deviceID := p.DeviceID
	if deviceID == "" && len(p.DeviceInfo) > 0 {
		deviceID = device.Fingerprint(p.DeviceInfo)
	}
	deviceTrusted := false
	if deviceID != "" {
		// An unreachable device record must not block the login; the risk
		// engine treats the device as unknown instead.
		rec, regErr := s.devices.Register(ctx, user.ID, deviceID, p.DeviceInfo)
		if regErr != nil {
			logger.WarnContext(ctx, "device registration failed",
				slog.String("user_id", user.ID),
				slog.String("error", regErr.Error()),
			)
		} else {
			deviceTrusted = rec.Trusted
		}
	}

	meta := map[string]string{}
	if p.UserAgent != "" {
		meta["user_agent"] = p.UserAgent
	}
	if p.Location != "" {
		meta["location"] = p.Location
	}
	sess, err := s.sessions.Create(ctx, user.ID, deviceID, p.IPAddress, meta)
	if err != nil {
		return nil, spanErr(span, err)
	}

	access, err := s.tokens.CreateAccessToken(user.ID, user.Roles, deviceID, map[string]any{
		"username":     user.Username,
		"mfa_verified": mfaVerified,
		"session_id":   sess.SessionID,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	refresh, err := s.tokens.CreateRefreshToken(ctx, user.ID, deviceID)
	if err != nil {
		return nil, spanErr(span, err)
	}

	if _, err := s.audit.LogAuthentication(ctx, user.ID, method, true, "", p.IPAddress, deviceID); err != nil {
		logger.WarnContext(ctx, "audit login", slog.String("error", err.Error()))
	}

	loginSuccessTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
	span.SetAttributes(attribute.Bool("auth.mfa_verified", mfaVerified))
	logger.InfoContext(ctx, "auth.login",
		slog.String("user_id", user.ID),
		slog.String("session_id", sess.SessionID),
		slog.String("method", method),
		slog.Bool("device_trusted", deviceTrusted),
	)

	return &LoginResult{
		User:          user,
		SessionID:     sess.SessionID,
		AccessToken:   access,
		RefreshToken:  refresh,
		ExpiresIn:     s.expiresIn(),
		MFAVerified:   mfaVerified,
		DeviceID:      deviceID,
		DeviceTrusted: deviceTrusted,
	}, nil
}

// trackLoginFailure counts the failure toward lockout and writes the audit
// record. A lockout tripping here is additionally recorded as a security
// event.
func (s *Service) trackLoginFailure(ctx context.Context, user *identity.User, p LoginParams, reason string) {
	userID := ""
	if user != nil {
		userID = user.ID
	}

	attempt, err := s.credentials.TrackFailedAttempt(ctx, p.Username)
	if err != nil {
		s.logger.WarnContext(ctx, "track failed attempt", slog.String("error", err.Error()))
	}

	s.auditLoginFailure(ctx, userID, p, reason)

	if attempt.Locked {
		if _, err := s.audit.LogSecurityEvent(ctx, "account_locked", audit.SeverityWarning, userID, map[string]any{
			"username":        p.Username,
			"failed_attempts": attempt.Count,
			"lockout_seconds": attempt.LockoutSeconds,
		}, p.IPAddress); err != nil {
			s.logger.ErrorContext(ctx, "audit lockout", slog.String("error", err.Error()))
		}
		s.logger.WarnContext(ctx, "account locked",
			slog.String("username", p.Username),
			slog.Int64("failed_attempts", attempt.Count),
		)
	}
}

// auditLoginFailure writes the denied-attempt audit record before the
// caller responds. The userID may be empty when the identity is unknown.
func (s *Service) auditLoginFailure(ctx context.Context, userID string, p LoginParams, reason string) {
	authFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	if _, err := s.audit.LogAuthentication(ctx, userID, "password", false, reason, p.IPAddress, p.DeviceID); err != nil {
		s.logger.ErrorContext(ctx, "audit login failure", slog.String("error", err.Error()))
	}
}
