package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
	"github.com/Harshith2412/zta-finance/internal/session"
)

// ActiveSessions returns the user's live sessions, most recent first.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]*session.Record, error) {
	return s.sessions.UserSessions(ctx, userID)
}

// RevokeSession invalidates one of the user's own sessions. A session that
// does not exist, has expired, or belongs to someone else reports
// ErrNotFound; the caller learns nothing about other users' sessions.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ctx, span := tracer.Start(ctx, "app.revoke_session")
	defer span.End()

	rec, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
		return spanErr(span, fmt.Errorf("session: %w", domain.ErrNotFound))
	}
	if err != nil {
		return spanErr(span, err)
	}
	if rec.UserID != userID {
		return spanErr(span, fmt.Errorf("session: %w", domain.ErrNotFound))
	}

	if _, err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return spanErr(span, err)
	}

	sessionRevocationsTotal.Add(ctx, 1)
	if _, err := s.audit.LogSecurityEvent(ctx, "session_revoked", audit.SeverityInfo, userID, map[string]any{
		"session_id": sessionID,
	}, ""); err != nil {
		s.logger.WarnContext(ctx, "audit session revocation", slog.String("error", err.Error()))
	}
	return nil
}

// RevokeAllSessions logs the user out everywhere: every session record and
// every refresh mirror dies. In-flight access tokens are not individually
// blacklisted; they fail session verification at the gateway and run out
// within their short lifetime. Returns how many sessions were invalidated.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "app.revoke_all_sessions")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	n, err := s.sessions.InvalidateAll(ctx, userID)
	if err != nil {
		return 0, spanErr(span, err)
	}
	if _, err := s.tokens.RevokeAllUserTokens(ctx, userID); err != nil {
		return n, spanErr(span, err)
	}

	sessionRevocationsTotal.Add(ctx, int64(n))
	if _, err := s.audit.LogSecurityEvent(ctx, "all_sessions_revoked", audit.SeverityWarning, userID, map[string]any{
		"session_count": n,
	}, ""); err != nil {
		logger.WarnContext(ctx, "audit session revocation", slog.String("error", err.Error()))
	}

	logger.InfoContext(ctx, "auth.sessions_revoked",
		slog.String("user_id", userID),
		slog.Int("count", n),
	)
	return n, nil
}
