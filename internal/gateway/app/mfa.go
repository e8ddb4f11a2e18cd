package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// MFASetup is returned once at enrollment. The secret never leaves the
// store again after this response.
type MFASetup struct {
	Secret          string
	ProvisioningURI string
}

// EnableMFA generates a TOTP secret for the user, stores it, and returns
// the provisioning URI for the enrollment QR code. Subsequent logins
// require a code.
func (s *Service) EnableMFA(ctx context.Context, userID string) (*MFASetup, error) {
	ctx, span := tracer.Start(ctx, "app.enable_mfa")
	defer span.End()

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if user.MFAEnabled {
		return nil, spanErr(span, fmt.Errorf("mfa already enabled: %w", domain.ErrAlreadyExists))
	}

	secret, err := authn.GenerateMFASecret()
	if err != nil {
		return nil, spanErr(span, err)
	}
	uri, err := authn.ProvisioningURI(secret, user.Username, s.credentials.MFAIssuer())
	if err != nil {
		return nil, spanErr(span, err)
	}

	if err := s.users.EnableMFA(ctx, userID, secret); err != nil {
		return nil, spanErr(span, err)
	}

	if _, err := s.audit.LogSecurityEvent(ctx, "mfa_enabled", audit.SeverityInfo, userID, nil, ""); err != nil {
		s.logger.WarnContext(ctx, "audit mfa enrollment", slog.String("error", err.Error()))
	}
	observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "auth.mfa_enabled",
		slog.String("user_id", userID),
	)

	return &MFASetup{Secret: secret.Expose(), ProvisioningURI: uri}, nil
}

// DisableMFA turns MFA off for the user. A valid current code is required;
// a stolen password alone must not be enough to strip the second factor.
func (s *Service) DisableMFA(ctx context.Context, userID, code string) error {
	ctx, span := tracer.Start(ctx, "app.disable_mfa")
	defer span.End()

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return spanErr(span, err)
	}
	if !user.MFAEnabled {
		return spanErr(span, fmt.Errorf("mfa is not enabled: %w", domain.ErrInvalidInput))
	}

	if err := s.credentials.VerifyMFACode(ctx, domain.SecretString(user.MFASecret), code); err != nil {
		return spanErr(span, err)
	}

	if err := s.users.DisableMFA(ctx, userID); err != nil {
		return spanErr(span, err)
	}

	if _, err := s.audit.LogSecurityEvent(ctx, "mfa_disabled", audit.SeverityWarning, userID, nil, ""); err != nil {
		s.logger.WarnContext(ctx, "audit mfa removal", slog.String("error", err.Error()))
	}
	observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "auth.mfa_disabled",
		slog.String("user_id", userID),
	)
	return nil
}
