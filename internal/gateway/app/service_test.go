package app_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/device"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/domain/domaintest"
	"github.com/Harshith2412/zta-finance/internal/gateway/app"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/kv"
	"github.com/Harshith2412/zta-finance/internal/session"
	"github.com/Harshith2412/zta-finance/internal/token"
)

const (
	testJWTSecret = domain.SecretString("0123456789abcdef0123456789abcdef")
	caseyPassword = "s3cure-pass-9"
)

// fastParams keeps argon2 cheap in tests; strength is not under test here.
var fastParams = authn.HashParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type appFixture struct {
	svc      *app.Service
	users    *identity.Directory
	creds    *authn.Service
	tokens   *token.Manager
	sessions *session.Manager
	devices  *device.Verifier
	trail    *audit.Logger
	mr       *miniredis.Miniredis
	clock    *domaintest.FakeClock
}

// newTestApp wires a Service over the real collaborators and a single
// miniredis, the same topology the composition root builds in production.
func newTestApp(t *testing.T) *appFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := kv.NewClient(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	clock := domaintest.NewFakeClockAtEpoch()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := identity.NewDirectory(identity.DirectoryConfig{Store: client, Clock: clock})
	creds := authn.NewService(authn.ServiceConfig{
		Store:     client,
		Hasher:    authn.NewHasher(fastParams),
		Clock:     clock,
		Logger:    logger,
		MFAIssuer: "ZTA Finance",
	})
	tokens, err := token.NewManager(token.ManagerConfig{
		Store:      client,
		Secret:     testJWTSecret,
		Issuer:     "zta-finance",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Clock:      clock,
	})
	require.NoError(t, err)
	sessions := session.NewManager(session.ManagerConfig{Store: client, Clock: clock, Logger: logger})
	devices := device.NewVerifier(device.VerifierConfig{Store: client, Clock: clock, Logger: logger})
	trail := audit.NewLogger(audit.LoggerConfig{Store: client, Clock: clock})

	svc := app.NewService(app.ServiceConfig{
		Users:       users,
		Credentials: creds,
		Tokens:      tokens,
		Sessions:    sessions,
		Devices:     devices,
		Audit:       trail,
		Clock:       clock,
		AccessTTL:   15 * time.Minute,
		Logger:      logger,
	})

	return &appFixture{
		svc:      svc,
		users:    users,
		creds:    creds,
		tokens:   tokens,
		sessions: sessions,
		devices:  devices,
		trail:    trail,
		mr:       mr,
		clock:    clock,
	}
}

func registerCasey(t *testing.T, f *appFixture) *identity.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), app.RegisterParams{
		Username:  "casey",
		Email:     "casey@example.com",
		Password:  caseyPassword,
		IPAddress: "192.0.2.10",
	})
	require.NoError(t, err)
	return user
}

func caseyLogin() app.LoginParams {
	return app.LoginParams{
		Username:   "casey",
		Password:   caseyPassword,
		DeviceID:   "dev-1",
		DeviceInfo: map[string]string{"platform": "ios", "model": "15"},
		IPAddress:  "192.0.2.10",
		UserAgent:  "zta-tests/1.0",
		Location:   "US:New York",
	}
}

// latestUserEvent returns the newest audit event on the user's trail.
func latestUserEvent(t *testing.T, f *appFixture, userID string) audit.Event {
	t.Helper()
	events, err := f.trail.UserEvents(context.Background(), userID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, events, "no audit events for user %s", userID)
	return events[0]
}

// totpFor generates a code valid at the fixture's current clock.
func totpFor(t *testing.T, f *appFixture, secret string) string {
	t.Helper()
	code, err := authn.GenerateTOTPCode(domain.SecretString(secret), f.clock.Now())
	require.NoError(t, err)
	return code
}
