package authn

import (
	"context"
	"fmt"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// GenerateResetToken mints a single-use password reset token for username.
// The token is the only copy; the store holds token -> username until it is
// consumed or expires.
func (s *Service) GenerateResetToken(ctx context.Context, username string) (string, error) {
	ctx, span := tracer.Start(ctx, "authn.GenerateResetToken")
	defer span.End()

	token, err := domain.NewOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("mint reset token: %w", err)
	}

	if err := s.store.Set(ctx, resetTokenKey(token), username, s.resetTTL); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	s.logger.InfoContext(ctx, "authn.reset_token_issued",
		"username", username,
		"ttl_seconds", int(s.resetTTL.Seconds()))
	return token, nil
}

// ConsumeResetToken exchanges a reset token for the username it was issued
// to, deleting it in the same step. Of any number of concurrent presenters
// exactly one gets the username; the rest get domain.ErrNotFound, the same
// answer an expired or never-issued token gets.
func (s *Service) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	ctx, span := tracer.Start(ctx, "authn.ConsumeResetToken")
	defer span.End()

	username, found, err := s.store.GetDel(ctx, resetTokenKey(token))
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	if !found {
		return "", fmt.Errorf("reset token: %w", domain.ErrNotFound)
	}

	s.logger.InfoContext(ctx, "authn.reset_token_consumed", "username", username)
	return username, nil
}
