package main

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/device"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/gateway/port"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/session"
	"github.com/Harshith2412/zta-finance/internal/token"
)

// newIdentifier builds the context provider the decision middleware runs in
// front of every protected route. It authenticates the bearer token, loads
// the account behind it, and assembles the access context the risk analyzer
// and policy engine evaluate. Verification failures surface as
// authentication errors; the middleware renders those as 401.
func newIdentifier(
	tokens *token.Manager,
	users *identity.Directory,
	devices *device.Verifier,
	sessions *session.Manager,
	logger *slog.Logger,
) decision.ContextProvider {
	return func(r *http.Request) (string, domain.AccessContext, error) {
		ctx := r.Context()

		raw := port.BearerToken(r)
		if raw == "" {
			return "", domain.AccessContext{}, domain.ErrAuthRequired
		}

		claims, err := tokens.VerifyToken(ctx, raw, domain.TokenTypeAccess)
		if err != nil {
			return "", domain.AccessContext{}, err
		}

		// A token for a deleted or deactivated account reads as revoked.
		user, err := users.GetUser(ctx, claims.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.AccessContext{}, domain.ErrTokenRevoked
		}
		if err != nil {
			return "", domain.AccessContext{}, err
		}
		if !user.Active {
			return "", domain.AccessContext{}, domain.ErrTokenRevoked
		}

		// The header wins over the claim so a stolen token replayed from
		// another device still shows up as a device change.
		deviceID := port.DeviceID(r)
		if deviceID == "" {
			deviceID = claims.DeviceID
		}

		ac := domain.AccessContext{
			UserID:       user.ID,
			Username:     user.Username,
			Roles:        claims.Roles,
			UserVerified: user.Verified,
			DeviceID:     deviceID,
			IPAddress:    port.ClientIP(r),
		}
		if mfa, ok := claims.Extra["mfa_verified"].(bool); ok {
			ac.MFAVerified = mfa
		}

		if deviceID != "" {
			dv, err := devices.Verify(ctx, user.ID, deviceID)
			if err != nil {
				// Device trust is an input to the risk score, not a gate;
				// an unreadable record leaves the device untrusted.
				logger.WarnContext(ctx, "device verification failed",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()))
			} else {
				ac.DeviceTrusted = dv.Trusted
			}
		}

		if sid, ok := claims.Extra["session_id"].(string); ok && sid != "" {
			ac.SessionID = sid
			sv, err := sessions.Verify(ctx, sid, deviceID, ac.IPAddress)
			if err != nil {
				return "", domain.AccessContext{}, err
			}
			if sv.Record == nil {
				if slices.Contains(sv.Anomalies, session.AnomalySessionExpired) {
					return "", domain.AccessContext{}, domain.ErrSessionExpired
				}
				return "", domain.AccessContext{}, domain.ErrSessionNotFound
			}
			// Mismatch anomalies stay non-terminal here; they feed the
			// risk score so the policy layer can demand step-up instead
			// of a hard reject.
			if len(sv.Anomalies) > 0 {
				if ac.Extensions == nil {
					ac.Extensions = make(map[string]any)
				}
				ac.Extensions["session_anomalies"] = sv.Anomalies
			}
		}

		if loc := r.Header.Get("X-Location"); loc != "" {
			parsed, err := domain.ParseLocation(loc)
			if err == nil {
				ac.Location = parsed
			}
		}

		// An absent amount and a zero amount are different things to
		// amount-gated policies, so a missing or garbled header leaves
		// Amount nil and lets the policy decide.
		if amt := r.Header.Get("X-Transaction-Amount"); amt != "" {
			v, err := strconv.ParseFloat(amt, 64)
			if err != nil {
				logger.WarnContext(ctx, "unparseable transaction amount header",
					slog.String("value", amt))
			} else {
				ac.Amount = &v
			}
		}

		return user.ID, ac, nil
	}
}
