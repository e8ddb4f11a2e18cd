// Package app orchestrates the gateway's authentication flows: login,
// registration, token refresh, logout, session management, MFA enrollment,
// and password reset. Transport handlers in port call into this package;
// it owns no HTTP concerns and speaks only domain errors.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/device"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/session"
	"github.com/Harshith2412/zta-finance/internal/token"
)

var tracer = otel.Tracer("gateway/app")

var (
	loginSuccessTotal       metric.Int64Counter
	authFailuresTotal       metric.Int64Counter
	registrationsTotal      metric.Int64Counter
	tokenRefreshTotal       metric.Int64Counter
	sessionRevocationsTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("gateway/app")

	loginSuccessTotal, _ = m.Int64Counter("auth_login_success_total",
		metric.WithDescription("Total successful logins"))
	authFailuresTotal, _ = m.Int64Counter("security_auth_failures_total",
		metric.WithDescription("Total authentication failures"))
	registrationsTotal, _ = m.Int64Counter("auth_registrations_total",
		metric.WithDescription("Total new identities registered"))
	tokenRefreshTotal, _ = m.Int64Counter("auth_token_refresh_total",
		metric.WithDescription("Total token refreshes"))
	sessionRevocationsTotal, _ = m.Int64Counter("security_session_revocations_total",
		metric.WithDescription("Total session revocations"))
}

// Auditor is the audit surface the flows require. The *audit.Logger
// satisfies this.
type Auditor interface {
	LogAuthentication(ctx context.Context, userID, method string, success bool, failureReason, ipAddress, deviceID string) (audit.Event, error)
	LogSecurityEvent(ctx context.Context, name string, severity audit.Severity, userID string, details map[string]any, ipAddress string) (audit.Event, error)
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	Users       *identity.Directory
	Credentials *authn.Service
	Tokens      *token.Manager
	Sessions    *session.Manager
	Devices     *device.Verifier
	Audit       Auditor
	Clock       domain.Clock

	// AccessTTL is reported to clients as expires_in on token responses.
	AccessTTL time.Duration

	Logger *slog.Logger
}

// Service orchestrates the authentication flows over the identity
// directory, credential service, token manager, session manager, and
// device verifier.
type Service struct {
	users       *identity.Directory
	credentials *authn.Service
	tokens      *token.Manager
	sessions    *session.Manager
	devices     *device.Verifier
	audit       Auditor
	clock       domain.Clock
	accessTTL   time.Duration
	logger      *slog.Logger
}

// NewService creates a Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = domain.AccessTokenTTL
	}
	return &Service{
		users:       cfg.Users,
		credentials: cfg.Credentials,
		tokens:      cfg.Tokens,
		sessions:    cfg.Sessions,
		devices:     cfg.Devices,
		audit:       cfg.Audit,
		clock:       cfg.Clock,
		accessTTL:   accessTTL,
		logger:      logger,
	}
}

// expiresIn is the access token lifetime in whole seconds, as reported on
// token responses.
func (s *Service) expiresIn() int {
	return int(s.accessTTL / time.Second)
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
