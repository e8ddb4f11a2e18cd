package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Invalidate ends a session: the record is deleted and its membership in
// the user's session set removed. Returns false when there was nothing to
// invalidate, so retries and logout-after-expiry are no-ops.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "session.invalidate")
	defer span.End()

	rec, ok, err := m.get(ctx, sessionID)
	if err != nil {
		return false, spanErr(span, err)
	}
	if !ok {
		return false, nil
	}

	if err := m.store.Del(ctx, sessionKey(sessionID)); err != nil {
		return false, spanErr(span, fmt.Errorf("delete session: %w", err))
	}
	if err := m.store.SRem(ctx, userSessionsKey(rec.UserID), sessionID); err != nil {
		return false, spanErr(span, fmt.Errorf("untrack session: %w", err))
	}

	sessionsInvalidatedTotal.Add(ctx, 1)
	m.logger.InfoContext(ctx, "session.invalidated",
		"session_id", sessionID,
		"user_id", rec.UserID,
	)
	return true, nil
}

// InvalidateAll ends every session for the user and returns how many were
// live. Used on password change, credential theft and account closure.
func (m *Manager) InvalidateAll(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "session.invalidate_all",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := domain.ValidateID(userID); err != nil {
		return 0, spanErr(span, err)
	}
	ids, err := m.store.SMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return 0, spanErr(span, fmt.Errorf("read session set: %w", err))
	}

	count := 0
	for _, id := range ids {
		ended, err := m.Invalidate(ctx, id)
		if err != nil {
			return count, spanErr(span, err)
		}
		if ended {
			count++
		}
	}
	if err := m.store.Del(ctx, userSessionsKey(userID)); err != nil {
		return count, spanErr(span, fmt.Errorf("drop session set: %w", err))
	}

	m.logger.InfoContext(ctx, "session.all_invalidated",
		"user_id", userID,
		"count", count,
	)
	return count, nil
}
