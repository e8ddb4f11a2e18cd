package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
)

func TestRefreshRotatesTokenPair(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	user := registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	// Claims embed the mint time, so distinct instants yield distinct
	// tokens.
	f.clock.Advance(time.Minute)

	refreshed, err := f.svc.Refresh(ctx, login.RefreshToken, "192.0.2.10")
	require.NoError(t, err)

	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, 900, refreshed.ExpiresIn)

	// The stored mirror now holds the rotated token.
	stored, found, err := f.tokens.StoredRefreshToken(ctx, user.ID, "dev-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, refreshed.RefreshToken, stored)

	// The new access token stays bound to the login session.
	claims, err := f.tokens.VerifyToken(ctx, refreshed.AccessToken, domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "casey", claims.Extra["username"])
	assert.Equal(t, login.SessionID, claims.Extra["session_id"])

	ev := latestUserEvent(t, f, user.ID)
	assert.Equal(t, "authentication_refresh_token_success", ev.Action)
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	user := registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rotated, err := f.svc.Refresh(ctx, login.RefreshToken, "192.0.2.10")
	require.NoError(t, err)

	// Presenting the superseded token looks like theft: somebody replayed
	// a token the legitimate client already spent.
	f.clock.Advance(time.Minute)
	_, err = f.svc.Refresh(ctx, login.RefreshToken, "198.51.100.7")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	// The response was a full revocation, so the current token is dead too.
	_, err = f.svc.Refresh(ctx, rotated.RefreshToken, "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	events, err := f.trail.UserEvents(ctx, user.ID, 10)
	require.NoError(t, err)
	var reuse *audit.Event
	for i := range events {
		if events[i].Action == "refresh_token_reuse" {
			reuse = &events[i]
			break
		}
	}
	require.NotNil(t, reuse, "no refresh_token_reuse event on trail")
	assert.Equal(t, audit.SeverityCritical, reuse.Severity)
	assert.Equal(t, "198.51.100.7", reuse.IPAddress)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, login.AccessToken, "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrTokenWrongType)
}

func TestRefreshRejectsDeactivatedAccount(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	user := registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	require.NoError(t, f.users.Deactivate(ctx, user.ID, "closed account"))

	f.clock.Advance(time.Minute)
	_, err = f.svc.Refresh(ctx, login.RefreshToken, "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	ev := latestUserEvent(t, f, user.ID)
	assert.Equal(t, "refresh_inactive_account", ev.Action)
}

func TestRefreshDropsStepUpProof(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	user := registerCasey(t, f)

	setup, err := f.svc.EnableMFA(ctx, user.ID)
	require.NoError(t, err)

	p := caseyLogin()
	p.MFACode = totpFor(t, f, setup.Secret)
	login, err := f.svc.Login(ctx, p)
	require.NoError(t, err)
	require.True(t, login.MFAVerified)

	f.clock.Advance(time.Minute)
	refreshed, err := f.svc.Refresh(ctx, login.RefreshToken, "192.0.2.10")
	require.NoError(t, err)

	// Rotation never extends MFA proof; a refreshed token starts cold.
	claims, err := f.tokens.VerifyToken(ctx, refreshed.AccessToken, domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, false, claims.Extra["mfa_verified"])
}

func TestRefreshOutlivesAccessToken(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	// Push past access expiry but well within the refresh window. The
	// mirror key's store TTL has to move with the clock.
	f.clock.Advance(time.Hour)
	f.mr.FastForward(time.Hour)

	_, err = f.tokens.VerifyToken(ctx, login.AccessToken, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)

	refreshed, err := f.svc.Refresh(ctx, login.RefreshToken, "192.0.2.10")
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}
