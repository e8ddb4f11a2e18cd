package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// VerifyToken checks a presented token and returns its claims. Checks run
// in a fixed order: signature, expiry, type, revocation. The first failure
// wins and is returned as the matching domain sentinel so audit records can
// name the exact cause.
//
// A store failure during the revocation check fails closed: the token is
// not accepted.
func (m *Manager) VerifyToken(ctx context.Context, tokenString string, want domain.TokenType) (*Claims, error) {
	ctx, span := tracer.Start(ctx, "token.VerifyToken",
		trace.WithAttributes(attribute.String("token.want_type", string(want))))
	defer span.End()

	claims, err := m.parse(tokenString, true)
	if err != nil {
		return nil, m.reject(ctx, span, err)
	}

	if claims.Type != want {
		return nil, m.reject(ctx, span, fmt.Errorf("token is %q, want %q: %w",
			claims.Type, want, domain.ErrTokenWrongType))
	}

	revoked, err := m.store.Exists(ctx, blacklistKey(tokenString))
	if err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, m.reject(ctx, span, domain.ErrTokenRevoked)
	}

	return claims, nil
}

// parse verifies the JWS and, when validateClaims is set, the registered
// claims. Library errors are collapsed onto the domain taxonomy here so no
// other package needs to know which JWT library is underneath.
func (m *Manager) parse(tokenString string, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, m.keyFunc, opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}
	return &claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return []byte(m.secret.Expose()), nil
}

// classifyParseError maps the JWT library's error set onto the domain
// taxonomy. Signature failures take precedence over claim failures, matching
// the declared check order; anything unrecognized counts as malformed.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", domain.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", domain.ErrTokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrTokenMalformed, err)
	}
}

// reject records the failure cause on the span and metrics, then returns err.
func (m *Manager) reject(ctx context.Context, span trace.Span, err error) error {
	reason := failureReason(err)
	span.SetAttributes(attribute.String("token.reject_reason", reason))
	tokenFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.logger.DebugContext(ctx, "token rejected", "reason", reason)
	return err
}

// failureReason names the rejection cause for audit and metric attributes.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenBadSignature):
		return "bad_signature"
	case errors.Is(err, domain.ErrTokenWrongType):
		return "wrong_type"
	case errors.Is(err, domain.ErrTokenRevoked):
		return "revoked"
	default:
		return "malformed"
	}
}

func recordSpanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
