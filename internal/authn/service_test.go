package authn_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/domain/domaintest"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

func newTestService(t *testing.T) (*authn.Service, *miniredis.Miniredis, *domaintest.FakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := kv.NewClient(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	clock := domaintest.NewFakeClockAtEpoch()
	svc := authn.NewService(authn.ServiceConfig{
		Store:     client,
		Hasher:    authn.NewHasher(fastParams),
		Clock:     clock,
		MFAIssuer: "ZTA Finance",
	})
	return svc, mr, clock
}

func TestMFASecretAndProvisioning(t *testing.T) {
	secret, err := authn.GenerateMFASecret()
	require.NoError(t, err)
	assert.Len(t, secret.Expose(), 32, "20 bytes base32 without padding")

	uri, err := authn.ProvisioningURI(secret, "casey@example.com", "ZTA Finance")
	require.NoError(t, err)
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "casey@example.com")
	assert.Contains(t, uri, "issuer=ZTA+Finance")
	assert.Contains(t, uri, "secret="+secret.Expose())
}

func TestVerifyMFACode(t *testing.T) {
	svc, mr, clock := newTestService(t)
	ctx := context.Background()

	secret, err := authn.GenerateMFASecret()
	require.NoError(t, err)

	t.Run("valid code accepted once", func(t *testing.T) {
		code, err := authn.GenerateTOTPCode(secret, clock.Now())
		require.NoError(t, err)

		require.NoError(t, svc.VerifyMFACode(ctx, secret, code))

		// Same code replayed moments later must be rejected even though
		// the code itself is still inside the TOTP validity window.
		clock.Advance(10 * time.Second)
		err = svc.VerifyMFACode(ctx, secret, code)
		assert.ErrorIs(t, err, domain.ErrMFAReplay)
	})

	t.Run("fresh code accepted after the replay mark expires", func(t *testing.T) {
		clock.Advance(60 * time.Second)
		mr.FastForward(70 * time.Second)

		code, err := authn.GenerateTOTPCode(secret, clock.Now())
		require.NoError(t, err)
		assert.NoError(t, svc.VerifyMFACode(ctx, secret, code))
	})

	t.Run("wrong code", func(t *testing.T) {
		err := svc.VerifyMFACode(ctx, secret, "000000")
		if err == nil {
			// Astronomically unlikely collision with the real code; the
			// taxonomy below is what matters.
			t.Skip("000000 happened to be the current code")
		}
		assert.ErrorIs(t, err, domain.ErrMFABadCode)
	})

	t.Run("garbage code", func(t *testing.T) {
		err := svc.VerifyMFACode(ctx, secret, "not-a-code")
		assert.ErrorIs(t, err, domain.ErrMFABadCode)
	})

	t.Run("skew of one step is accepted", func(t *testing.T) {
		code, err := authn.GenerateTOTPCode(secret, clock.Now().Add(-30*time.Second))
		require.NoError(t, err)
		assert.NoError(t, svc.VerifyMFACode(ctx, secret, code))
	})

	t.Run("bad code and replay are distinct failures", func(t *testing.T) {
		assert.NotErrorIs(t, domain.ErrMFABadCode, domain.ErrMFAReplay)
		assert.True(t, domain.IsAuthnFailure(domain.ErrMFABadCode))
		assert.True(t, domain.IsAuthnFailure(domain.ErrMFAReplay))
	})
}

func TestLockout(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()

	t.Run("locks at the fifth failure", func(t *testing.T) {
		for i := 1; i <= 4; i++ {
			attempt, err := svc.TrackFailedAttempt(ctx, "casey")
			require.NoError(t, err)
			assert.Equal(t, int64(i), attempt.Count)
			assert.False(t, attempt.Locked, "attempt %d must not lock", i)
			assert.Zero(t, attempt.LockoutSeconds)
		}

		attempt, err := svc.TrackFailedAttempt(ctx, "casey")
		require.NoError(t, err)
		assert.True(t, attempt.Locked)
		assert.Equal(t, 1800, attempt.LockoutSeconds)

		locked, err := svc.IsAccountLocked(ctx, "casey")
		require.NoError(t, err)
		assert.True(t, locked)
	})

	t.Run("window starts at the first failure and is not extended", func(t *testing.T) {
		_, err := svc.TrackFailedAttempt(ctx, "jordan")
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, mr.TTL("failed_attempts/jordan"))

		mr.FastForward(10 * time.Minute)
		_, err = svc.TrackFailedAttempt(ctx, "jordan")
		require.NoError(t, err)
		assert.Equal(t, 20*time.Minute, mr.TTL("failed_attempts/jordan"),
			"later failures must not rearm the window")
	})

	t.Run("lockout clears when the window lapses", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := svc.TrackFailedAttempt(ctx, "riley")
			require.NoError(t, err)
		}
		locked, err := svc.IsAccountLocked(ctx, "riley")
		require.NoError(t, err)
		require.True(t, locked)

		mr.FastForward(31 * time.Minute)
		locked, err = svc.IsAccountLocked(ctx, "riley")
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("successful login clears the counter", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := svc.TrackFailedAttempt(ctx, "alex")
			require.NoError(t, err)
		}
		require.NoError(t, svc.ClearFailedAttempts(ctx, "alex"))

		count, err := svc.FailedAttemptCount(ctx, "alex")
		require.NoError(t, err)
		assert.Zero(t, count)

		assert.NoError(t, svc.ClearFailedAttempts(ctx, "alex"), "clearing again is a no-op")
	})

	t.Run("locked check fails closed when the store is down", func(t *testing.T) {
		broken := authn.NewService(authn.ServiceConfig{Store: deadStore(t)})
		locked, err := broken.IsAccountLocked(ctx, "casey")
		require.Error(t, err)
		assert.True(t, locked, "unreadable counter must read as locked")
	})
}

func TestResetTokens(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		token, err := svc.GenerateResetToken(ctx, "casey")
		require.NoError(t, err)
		require.NotEmpty(t, token)
		assert.Equal(t, time.Hour, mr.TTL("reset_token/"+token))

		username, err := svc.ConsumeResetToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "casey", username)

		_, err = svc.ConsumeResetToken(ctx, token)
		assert.ErrorIs(t, err, domain.ErrNotFound, "second presentation must fail")
	})

	t.Run("expires unused", func(t *testing.T) {
		token, err := svc.GenerateResetToken(ctx, "casey")
		require.NoError(t, err)

		mr.FastForward(61 * time.Minute)
		_, err = svc.ConsumeResetToken(ctx, token)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.ConsumeResetToken(ctx, "never-issued")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

// deadStore returns a client whose backing server is already gone.
func deadStore(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := kv.NewClient(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()
	return client
}
