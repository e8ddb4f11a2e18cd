package app

import (
	"context"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// Logout revokes the presented access token, the refresh token mirrored
// for its (user, device) pair, and the session the token was issued under.
// The token must still verify; logging out with an expired token is a
// no-op the client can ignore.
func (s *Service) Logout(ctx context.Context, accessToken, ipAddress string) error {
	ctx, span := tracer.Start(ctx, "app.logout")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	claims, err := s.tokens.VerifyToken(ctx, accessToken, domain.TokenTypeAccess)
	if err != nil {
		return spanErr(span, err)
	}

	if err := s.tokens.BlacklistToken(ctx, accessToken); err != nil {
		return spanErr(span, err)
	}
	if err := s.tokens.RevokeRefreshToken(ctx, claims.UserID, claims.DeviceID); err != nil {
		return spanErr(span, err)
	}

	sessionID, _ := claims.Extra["session_id"].(string)
	if sessionID != "" {
		if _, err := s.sessions.Invalidate(ctx, sessionID); err != nil {
			// The tokens are already dead; a stuck session record only
			// lingers until its inactivity timeout.
			logger.WarnContext(ctx, "invalidate session on logout",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	details := map[string]any{}
	if sessionID != "" {
		details["session_id"] = sessionID
	}
	if _, err := s.audit.LogSecurityEvent(ctx, "user_logout", audit.SeverityInfo, claims.UserID, details, ipAddress); err != nil {
		logger.WarnContext(ctx, "audit logout", slog.String("error", err.Error()))
	}

	logger.InfoContext(ctx, "auth.logout",
		slog.String("user_id", claims.UserID),
		slog.String("session_id", sessionID),
	)
	return nil
}
