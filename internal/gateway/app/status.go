package app

import (
	"context"
	"errors"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Principal is the identity an access token resolves to.
type Principal struct {
	UserID      string
	Username    string
	Roles       []string
	SessionID   string
	DeviceID    string
	MFAVerified bool
}

// Authenticate resolves a bearer access token to its principal. The token
// must verify and the account behind it must still be active; a token for
// a deactivated account reads as revoked.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	ctx, span := tracer.Start(ctx, "app.authenticate")
	defer span.End()

	if accessToken == "" {
		return nil, spanErr(span, domain.ErrAuthRequired)
	}

	claims, err := s.tokens.VerifyToken(ctx, accessToken, domain.TokenTypeAccess)
	if err != nil {
		return nil, spanErr(span, err)
	}

	user, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, spanErr(span, domain.ErrTokenRevoked)
	}
	if err != nil {
		return nil, spanErr(span, err)
	}
	if !user.Active {
		return nil, spanErr(span, domain.ErrTokenRevoked)
	}

	p := &Principal{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    claims.Roles,
		DeviceID: claims.DeviceID,
	}
	if sid, ok := claims.Extra["session_id"].(string); ok {
		p.SessionID = sid
	}
	if mfa, ok := claims.Extra["mfa_verified"].(bool); ok {
		p.MFAVerified = mfa
	}
	return p, nil
}
