package authn

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// Attempt reports the state of the failure counter after a tracked failure.
type Attempt struct {
	Count  int64
	Locked bool
	// LockoutSeconds is how long the caller should report the account
	// locked for; zero when not locked.
	LockoutSeconds int
}

// TrackFailedAttempt records one failed login for username and reports
// whether the account just crossed the lockout threshold. The counter's
// window starts at the first failure and is not extended by later ones, so
// a lockout always ends a fixed time after the failure that opened it.
func (s *Service) TrackFailedAttempt(ctx context.Context, username string) (Attempt, error) {
	ctx, span := tracer.Start(ctx, "authn.TrackFailedAttempt")
	defer span.End()

	count, err := s.store.IncrWithWindow(ctx, failedAttemptsKey(username), s.lockoutWindow)
	if err != nil {
		return Attempt{}, fmt.Errorf("track failed attempt: %w", err)
	}

	attempt := Attempt{Count: count}
	if count >= int64(s.maxAttempts) {
		attempt.Locked = true
		attempt.LockoutSeconds = int(s.lockoutWindow.Seconds())

		span.SetAttributes(attribute.Bool("authn.locked", true))
		if count == int64(s.maxAttempts) {
			lockoutsTotal.Add(ctx, 1)
			s.logger.WarnContext(ctx, "authn.account_locked",
				"username", username,
				"failed_attempts", count,
				"lockout_seconds", attempt.LockoutSeconds)
		}
	}
	return attempt, nil
}

// IsAccountLocked reports whether username currently sits at or above the
// lockout threshold.
//
// Reads fail closed: if the counter is unreadable the account is reported
// locked, because answering "unlocked" without evidence would let an
// attacker ride out store outages.
func (s *Service) IsAccountLocked(ctx context.Context, username string) (bool, error) {
	count, err := s.FailedAttemptCount(ctx, username)
	if err != nil {
		return true, err
	}
	return count >= int64(s.maxAttempts), nil
}

// FailedAttemptCount returns the current failure count for username.
func (s *Service) FailedAttemptCount(ctx context.Context, username string) (int64, error) {
	raw, found, err := s.store.Get(ctx, failedAttemptsKey(username))
	if err != nil {
		return 0, fmt.Errorf("read failure counter: %w", err)
	}
	if !found {
		return 0, nil
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failure counter %q is not a number: %w", raw, err)
	}
	return count, nil
}

// ClearFailedAttempts resets the failure counter after a successful login.
// Safe to retry; clearing an absent counter is a no-op.
func (s *Service) ClearFailedAttempts(ctx context.Context, username string) error {
	ctx, span := tracer.Start(ctx, "authn.ClearFailedAttempts")
	defer span.End()

	if err := s.store.Del(ctx, failedAttemptsKey(username)); err != nil {
		return fmt.Errorf("clear failure counter: %w", err)
	}
	return nil
}
