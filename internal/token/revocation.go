package token

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// minBlacklistTTL keeps blacklisting total even for tokens at the edge of
// expiry; a one-second entry is harmless and the write never becomes a no-op.
const minBlacklistTTL = 1 * time.Second

// BlacklistToken revokes a token before its natural expiry. The signature
// must verify but the token may already be expired; the blacklist entry
// lives exactly as long as the token has left. Safe to retry.
func (m *Manager) BlacklistToken(ctx context.Context, tokenString string) error {
	ctx, span := tracer.Start(ctx, "token.BlacklistToken")
	defer span.End()

	claims, err := m.parse(tokenString, false)
	if err != nil {
		return fmt.Errorf("blacklist: %w", err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("blacklist: token has no expiry: %w", domain.ErrTokenMalformed)
	}

	ttl := claims.ExpiresAt.Sub(m.clock.Now())
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}

	if err := m.store.Set(ctx, blacklistKey(tokenString), "1", ttl); err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("write blacklist entry: %w", err)
	}

	tokenRevocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "blacklist")))
	m.logger.InfoContext(ctx, "token.blacklisted",
		"user_id", claims.UserID,
		"type", claims.Type,
		"ttl_seconds", int(ttl.Seconds()))
	return nil
}

// IsBlacklisted reports whether a token has been revoked.
func (m *Manager) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	return m.store.Exists(ctx, blacklistKey(tokenString))
}

// RevokeRefreshToken deletes the server-side mirror for one (user, device)
// pair. The signed refresh token itself keeps validating until expiry, so
// callers that need hard revocation should also blacklist it; deleting the
// mirror is what blocks the refresh flow. Safe to retry.
func (m *Manager) RevokeRefreshToken(ctx context.Context, userID, deviceID string) error {
	ctx, span := tracer.Start(ctx, "token.RevokeRefreshToken")
	defer span.End()

	if err := m.store.Del(ctx, refreshKey(userID, deviceID)); err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("delete refresh mirror: %w", err)
	}

	tokenRevocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "refresh")))
	return nil
}

// StoredRefreshToken returns the mirrored refresh token for a (user, device)
// pair. The refresh flow compares the presented token against this mirror;
// absence means the token was revoked or never issued.
func (m *Manager) StoredRefreshToken(ctx context.Context, userID, deviceID string) (string, bool, error) {
	return m.store.Get(ctx, refreshKey(userID, deviceID))
}

// RevokeAllUserTokens deletes every refresh mirror belonging to a user, for
// account-compromise response. Returns the number of mirrors removed.
// Access tokens already in flight stay valid until expiry unless
// individually blacklisted.
func (m *Manager) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "token.RevokeAllUserTokens")
	defer span.End()

	keys, err := m.store.ScanPrefix(ctx, "refresh/"+userID+"/")
	if err != nil {
		recordSpanErr(span, err)
		return 0, fmt.Errorf("scan refresh mirrors: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := m.store.Del(ctx, keys...); err != nil {
		recordSpanErr(span, err)
		return 0, fmt.Errorf("delete refresh mirrors: %w", err)
	}

	tokenRevocationsTotal.Add(ctx, int64(len(keys)),
		metric.WithAttributes(attribute.String("kind", "refresh")))
	m.logger.InfoContext(ctx, "token.all_user_tokens_revoked",
		"user_id", userID, "count", len(keys))
	return len(keys), nil
}
