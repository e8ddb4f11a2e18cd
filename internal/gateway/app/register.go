package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// RegisterParams holds the inputs for a new-identity registration.
type RegisterParams struct {
	Username string
	Email    string
	Password string

	// Roles defaults to the standard account-holder role when empty.
	Roles []string

	IPAddress string
}

// Register creates a new identity with a freshly hashed password. The
// identity starts active but unverified; a duplicate username or email
// surfaces as ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*identity.User, error) {
	ctx, span := tracer.Start(ctx, "app.register")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if err := validateRegistration(p); err != nil {
		return nil, spanErr(span, err)
	}

	hash, err := s.credentials.HashPassword(p.Password)
	if err != nil {
		return nil, spanErr(span, err)
	}

	user, err := s.users.CreateUser(ctx, identity.NewUser{
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: hash,
		Roles:        p.Roles,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}

	if _, err := s.audit.LogSecurityEvent(ctx, "user_registration", audit.SeverityInfo, user.ID, map[string]any{
		"username": user.Username,
		"email":    user.Email,
	}, p.IPAddress); err != nil {
		logger.WarnContext(ctx, "audit registration", slog.String("error", err.Error()))
	}

	registrationsTotal.Add(ctx, 1)
	logger.InfoContext(ctx, "auth.registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

func validateRegistration(p RegisterParams) error {
	if len(p.Username) < 3 || len(p.Username) > 50 {
		return fmt.Errorf("username must be 3 to 50 characters: %w", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("email address is invalid: %w", domain.ErrInvalidInput)
	}
	if len(p.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: %w", domain.ErrInvalidInput)
	}
	return nil
}
