package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// RequestPasswordReset issues a one-time reset token for the account. The
// token is returned to the caller for out-of-band delivery. An unknown
// username reports ErrNotFound; transports must respond identically either
// way so the endpoint cannot be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, username, ipAddress string) (string, error) {
	ctx, span := tracer.Start(ctx, "app.request_password_reset")
	defer span.End()

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", spanErr(span, err)
	}

	resetToken, err := s.credentials.GenerateResetToken(ctx, username)
	if err != nil {
		return "", spanErr(span, err)
	}

	if _, err := s.audit.LogSecurityEvent(ctx, "password_reset_requested", audit.SeverityInfo, user.ID, nil, ipAddress); err != nil {
		s.logger.WarnContext(ctx, "audit reset request", slog.String("error", err.Error()))
	}
	return resetToken, nil
}

// ResetPassword consumes a reset token and replaces the account password.
// Every live session and token the user holds is revoked; whoever reset
// the password must log in fresh, and whoever held the old credential is
// out.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword, ipAddress string) error {
	ctx, span := tracer.Start(ctx, "app.reset_password")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if len(newPassword) < 8 {
		return spanErr(span, fmt.Errorf("password must be at least 8 characters: %w", domain.ErrInvalidInput))
	}

	username, err := s.credentials.ConsumeResetToken(ctx, resetToken)
	if err != nil {
		return spanErr(span, err)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return spanErr(span, err)
	}

	hash, err := s.credentials.HashPassword(newPassword)
	if err != nil {
		return spanErr(span, err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return spanErr(span, err)
	}

	if err := s.credentials.ClearFailedAttempts(ctx, username); err != nil {
		logger.WarnContext(ctx, "clear failed attempts after reset", slog.String("error", err.Error()))
	}
	if _, err := s.sessions.InvalidateAll(ctx, user.ID); err != nil {
		logger.WarnContext(ctx, "invalidate sessions after reset", slog.String("error", err.Error()))
	}
	if _, err := s.tokens.RevokeAllUserTokens(ctx, user.ID); err != nil {
		logger.WarnContext(ctx, "revoke tokens after reset", slog.String("error", err.Error()))
	}

	if _, err := s.audit.LogSecurityEvent(ctx, "password_reset", audit.SeverityWarning, user.ID, nil, ipAddress); err != nil {
		logger.WarnContext(ctx, "audit password reset", slog.String("error", err.Error()))
	}

	logger.InfoContext(ctx, "auth.password_reset",
		slog.String("user_id", user.ID),
	)
	return nil
}
