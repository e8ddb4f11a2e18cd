package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// RefreshResult is returned by Refresh on success.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Refresh exchanges a refresh token for a new access and refresh token
// pair. Only the refresh token most recently issued for the (user, device)
// pair is accepted; presenting an older one is treated as theft and
// revokes every live token the user has.
//
// Refreshed access tokens never carry an MFA claim. MFA proof does not
// survive rotation; a step-up challenge re-establishes it when a
// high-risk operation needs it.
func (s *Service) Refresh(ctx context.Context, refreshToken, ipAddress string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "app.refresh")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	claims, err := s.tokens.VerifyToken(ctx, refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		return nil, spanErr(span, err)
	}

	stored, found, err := s.tokens.StoredRefreshToken(ctx, claims.UserID, claims.DeviceID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !found || stored != refreshToken {
		// Validly signed but not the live mirror: this token was already
		// rotated away. Someone is replaying an old capture.
		if _, revErr := s.tokens.RevokeAllUserTokens(ctx, claims.UserID); revErr != nil {
			logger.ErrorContext(ctx, "revoke tokens after refresh reuse", slog.String("error", revErr.Error()))
		}
		if _, auditErr := s.audit.LogSecurityEvent(ctx, "refresh_token_reuse", audit.SeverityCritical, claims.UserID, map[string]any{
			"device_id": claims.DeviceID,
		}, ipAddress); auditErr != nil {
			logger.ErrorContext(ctx, "audit refresh reuse", slog.String("error", auditErr.Error()))
		}
		logger.WarnContext(ctx, "refresh token reuse detected",
			slog.String("user_id", claims.UserID),
			slog.String("device_id", claims.DeviceID),
		)
		return nil, spanErr(span, domain.ErrTokenRevoked)
	}

	user, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, spanErr(span, domain.ErrTokenRevoked)
	}
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !user.Active {
		if _, auditErr := s.audit.LogSecurityEvent(ctx, "refresh_inactive_account", audit.SeverityWarning, user.ID, nil, ipAddress); auditErr != nil {
			logger.ErrorContext(ctx, "audit inactive refresh", slog.String("error", auditErr.Error()))
		}
		return nil, spanErr(span, domain.ErrTokenRevoked)
	}

	// Keep the access token bound to the session this device already
	// holds, so logout keeps tearing down the right record.
	extra := map[string]any{
		"username":     user.Username,
		"mfa_verified": false,
	}
	if sessionID := s.deviceSession(ctx, user.ID, claims.DeviceID); sessionID != "" {
		extra["session_id"] = sessionID
	}

	access, err := s.tokens.CreateAccessToken(user.ID, user.Roles, claims.DeviceID, extra)
	if err != nil {
		return nil, spanErr(span, err)
	}
	rotated, err := s.tokens.CreateRefreshToken(ctx, user.ID, claims.DeviceID)
	if err != nil {
		return nil, spanErr(span, err)
	}

	if _, err := s.audit.LogAuthentication(ctx, user.ID, "refresh_token", true, "", ipAddress, claims.DeviceID); err != nil {
		logger.WarnContext(ctx, "audit refresh", slog.String("error", err.Error()))
	}

	tokenRefreshTotal.Add(ctx, 1)
	logger.InfoContext(ctx, "auth.refreshed",
		slog.String("user_id", user.ID),
		slog.String("device_id", claims.DeviceID),
	)

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: rotated,
		ExpiresIn:    s.expiresIn(),
	}, nil
}

// deviceSession returns the most recently active session this device holds
// for the user, touching its activity clock. Best effort: an empty return
// just issues an access token without session linkage.
func (s *Service) deviceSession(ctx context.Context, userID, deviceID string) string {
	if deviceID == "" {
		return ""
	}
	sessions, err := s.sessions.UserSessions(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "list sessions on refresh", slog.String("error", err.Error()))
		return ""
	}

	best := ""
	bestActivity := ""
	for _, rec := range sessions {
		if rec.DeviceID != deviceID {
			continue
		}
		if rec.LastActivity > bestActivity {
			best = rec.SessionID
			bestActivity = rec.LastActivity
		}
	}
	if best != "" {
		if err := s.sessions.UpdateActivity(ctx, best); err != nil {
			s.logger.WarnContext(ctx, "touch session on refresh", slog.String("error", err.Error()))
		}
	}
	return best
}
