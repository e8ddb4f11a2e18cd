package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

func TestPasswordResetFlow(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	user := registerCasey(t, f)

	login, err := f.svc.Login(ctx, caseyLogin())
	require.NoError(t, err)

	token, err := f.svc.RequestPasswordReset(ctx, "casey", "192.0.2.10")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ev := latestUserEvent(t, f, user.ID)
	assert.Equal(t, "password_reset_requested", ev.Action)

	require.NoError(t, f.svc.ResetPassword(ctx, token, "brand-new-pass-1", "192.0.2.10"))

	// The old password is dead.
	_, err = f.svc.Login(ctx, caseyLogin())
	assert.ErrorIs(t, err, domain.ErrBadCredentials)

	// So is everything the old credentials had open.
	_, err = f.sessions.Get(ctx, login.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, found, err := f.tokens.StoredRefreshToken(ctx, user.ID, "dev-1")
	require.NoError(t, err)
	assert.False(t, found)

	// The new password works.
	p := caseyLogin()
	p.Password = "brand-new-pass-1"
	_, err = f.svc.Login(ctx, p)
	assert.NoError(t, err)
}

func TestResetTokenIsSingleUse(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	registerCasey(t, f)

	token, err := f.svc.RequestPasswordReset(ctx, "casey", "192.0.2.10")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, token, "brand-new-pass-1", "192.0.2.10"))

	err = f.svc.ResetPassword(ctx, token, "even-newer-pass-2", "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetTokenExpires(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	registerCasey(t, f)

	token, err := f.svc.RequestPasswordReset(ctx, "casey", "192.0.2.10")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	f.mr.FastForward(2 * time.Hour)

	err = f.svc.ResetPassword(ctx, token, "brand-new-pass-1", "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetRequestUnknownUser(t *testing.T) {
	f := newTestApp(t)

	// The transport layer answers identically either way; the app hands
	// it the distinction so it can still audit real requests.
	_, err := f.svc.RequestPasswordReset(context.Background(), "ghost", "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetRejectsShortPassword(t *testing.T) {
	f := newTestApp(t)
	ctx := context.Background()
	registerCasey(t, f)

	token, err := f.svc.RequestPasswordReset(ctx, "casey", "192.0.2.10")
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, token, "short", "192.0.2.10")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// Rejection happened before the token was consumed; it still works.
	require.NoError(t, f.svc.ResetPassword(ctx, token, "brand-new-pass-1", "192.0.2.10"))
}
