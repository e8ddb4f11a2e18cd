// Package token issues, verifies, and revokes the gateway's signed tokens.
// Access and refresh tokens are HS256 JWS compact serializations; revocation
// state (blacklist entries and refresh mirrors) lives in the shared store.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("token")

var (
	tokensIssuedTotal     metric.Int64Counter
	tokenFailuresTotal    metric.Int64Counter
	tokenRevocationsTotal metric.Int64Counter
)

func init() {
	meter := otel.Meter("token")
	tokensIssuedTotal, _ = meter.Int64Counter("token_issued_total",
		metric.WithDescription("Tokens minted, by type"))
	tokenFailuresTotal, _ = meter.Int64Counter("token_verify_failures_total",
		metric.WithDescription("Token verifications rejected, by reason"))
	tokenRevocationsTotal, _ = meter.Int64Counter("token_revocations_total",
		metric.WithDescription("Tokens and refresh mirrors revoked"))
}

// minSecretBytes is the floor for the HS256 signing secret. Shorter secrets
// weaken the MAC below the hash's own strength.
const minSecretBytes = 32

// Manager mints and verifies HS256 tokens and tracks their revocation state.
type Manager struct {
	store      kv.Store
	secret     domain.SecretString
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      domain.Clock
	logger     *slog.Logger
}

// ManagerConfig holds the dependencies for creating a Manager.
type ManagerConfig struct {
	Store      kv.Store
	Secret     domain.SecretString
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      domain.Clock
	Logger     *slog.Logger
}

// NewManager creates a token manager. The signing secret must carry at
// least 256 bits; everything else falls back to compiled defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Secret.Expose()) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes: %w",
			minSecretBytes, domain.ErrConfigRequired)
	}

	m := &Manager{
		store:      cfg.Store,
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = domain.AccessTokenTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = domain.RefreshTokenTTL
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// CreateAccessToken mints a signed access token for the given user. Extra
// claims are carried verbatim and returned on verification.
func (m *Manager) CreateAccessToken(userID string, roles []string, deviceID string, extra map[string]any) (string, error) {
	now := m.clock.Now().UTC()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		UserID:   userID,
		Roles:    roles,
		DeviceID: deviceID,
		Type:     domain.TokenTypeAccess,
		Extra:    extra,
	}

	signed, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	tokensIssuedTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", string(domain.TokenTypeAccess))))
	return signed, nil
}

// CreateRefreshToken mints a signed refresh token and records it in the
// store under the (user, device) pair, so it can be revoked server-side
// without waiting for expiry.
func (m *Manager) CreateRefreshToken(ctx context.Context, userID, deviceID string) (string, error) {
	ctx, span := tracer.Start(ctx, "token.CreateRefreshToken")
	defer span.End()

	now := m.clock.Now().UTC()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
		},
		UserID:   userID,
		DeviceID: deviceID,
		Type:     domain.TokenTypeRefresh,
	}

	signed, err := m.sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	// Mirror the token server-side. The mirror's TTL tracks the token's own
	// lifetime; RevokeRefreshToken and RevokeAllUserTokens delete mirrors.
	if err := m.store.Set(ctx, refreshKey(userID, deviceID), signed, m.refreshTTL); err != nil {
		recordSpanErr(span, err)
		return "", fmt.Errorf("store refresh token: %w", err)
	}

	tokensIssuedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", string(domain.TokenTypeRefresh))))
	return signed, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(m.secret.Expose()))
}

func refreshKey(userID, deviceID string) string {
	return "refresh/" + userID + "/" + deviceID
}

func blacklistKey(token string) string {
	return "blacklist/" + token
}
