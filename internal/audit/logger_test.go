package audit_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/domain/domaintest"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

type loggerFixture struct {
	logger *audit.Logger
	store  kv.Store
	mr     *miniredis.Miniredis
	clock  *domaintest.FakeClock
}

func newTestLogger(t *testing.T, opts ...func(*audit.LoggerConfig)) *loggerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := kv.NewClient(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	clock := domaintest.NewFakeClockAtEpoch()
	cfg := audit.LoggerConfig{
		Store: client,
		Clock: clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &loggerFixture{
		logger: audit.NewLogger(cfg),
		store:  client,
		mr:     mr,
		clock:  clock,
	}
}

func TestLogEvent(t *testing.T) {
	f := newTestLogger(t)
	ctx := context.Background()

	ev, err := f.logger.LogEvent(ctx, audit.Event{
		Type:      audit.TypeTransaction,
		Severity:  audit.SeverityInfo,
		UserID:    "user-1",
		Action:    "transaction_transfer",
		Resource:  "transaction",
		Details:   map[string]any{"amount": 2500.0},
		IPAddress: "192.0.2.10",
		DeviceID:  "dev-1",
		SessionID: "sess-1",
		Success:   true,
	})
	require.NoError(t, err)
	assert.Len(t, ev.EventID, 36)
	assert.Equal(t, "2026-01-15T12:00:00Z", ev.Timestamp)

	day, err := f.store.LRange(ctx, "audit/20260115", 0, -1)
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Contains(t, day[0], `"event_type":"transaction"`)
	assert.Contains(t, day[0], `"ip_address":"192.0.2.10"`)
	assert.Contains(t, day[0], ev.EventID)

	trail, err := f.store.LRange(ctx, "user_events/user-1", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, day, trail)

	assert.Equal(t, domain.AuditRetention, f.mr.TTL("audit/20260115"))
	assert.Equal(t, domain.AuditRetention, f.mr.TTL("user_events/user-1"))

	t.Run("anonymous events skip the user trail", func(t *testing.T) {
		_, err := f.logger.LogEvent(ctx, audit.Event{
			Type:     audit.TypeConfigChange,
			Severity: audit.SeverityInfo,
			Action:   "policy_reload",
			Success:  true,
		})
		require.NoError(t, err)

		day, err := f.store.LRange(ctx, "audit/20260115", 0, -1)
		require.NoError(t, err)
		assert.Len(t, day, 2)
		trail, err := f.store.LRange(ctx, "user_events/user-1", 0, -1)
		require.NoError(t, err)
		assert.Len(t, trail, 1)
	})

	t.Run("rejects an unknown type", func(t *testing.T) {
		_, err := f.logger.LogEvent(ctx, audit.Event{
			Type:     "telemetry",
			Severity: audit.SeverityInfo,
			Action:   "x",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects an unknown severity", func(t *testing.T) {
		_, err := f.logger.LogEvent(ctx, audit.Event{
			Type:     audit.TypeAdminAction,
			Severity: "fatal",
			Action:   "x",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects a missing action", func(t *testing.T) {
		_, err := f.logger.LogEvent(ctx, audit.Event{
			Type:     audit.TypeAdminAction,
			Severity: audit.SeverityInfo,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestUserTrailIsCapped(t *testing.T) {
	f := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < domain.UserEventsLimit; i++ {
		_, err := f.mr.Lpush("user_events/user-1", `{"event_id":"old"}`)
		require.NoError(t, err)
	}

	ev, err := f.logger.LogEvent(ctx, audit.Event{
		Type:     audit.TypeDataAccess,
		Severity: audit.SeverityInfo,
		UserID:   "user-1",
		Action:   "statements_read",
		Success:  true,
	})
	require.NoError(t, err)

	trail, err := f.store.LRange(ctx, "user_events/user-1", 0, -1)
	require.NoError(t, err)
	require.Len(t, trail, domain.UserEventsLimit)
	assert.Contains(t, trail[0], ev.EventID, "newest entry leads, oldest fell off")
}

func TestHelpers(t *testing.T) {
	f := newTestLogger(t)
	ctx := context.Background()

	t.Run("authentication success", func(t *testing.T) {
		ev, err := f.logger.LogAuthentication(ctx, "user-1", "password", true, "", "192.0.2.10", "dev-1")
		require.NoError(t, err)
		assert.Equal(t, audit.TypeAuthentication, ev.Type)
		assert.Equal(t, audit.SeverityInfo, ev.Severity)
		assert.Equal(t, "authentication_password_success", ev.Action)
		assert.Equal(t, map[string]any{"method": "password"}, ev.Details)
		assert.Equal(t, "192.0.2.10", ev.IPAddress)
		assert.Equal(t, "dev-1", ev.DeviceID)
		assert.True(t, ev.Success)
	})

	t.Run("authentication failure carries the reason", func(t *testing.T) {
		ev, err := f.logger.LogAuthentication(ctx, "user-1", "mfa", false, "invalid code", "", "")
		require.NoError(t, err)
		assert.Equal(t, audit.SeverityWarning, ev.Severity)
		assert.Equal(t, "authentication_mfa_failure", ev.Action)
		assert.Equal(t, "invalid code", ev.Details["failure_reason"])
		assert.False(t, ev.Success)
	})

	t.Run("authorization granted", func(t *testing.T) {
		ev, err := f.logger.LogAuthorization(ctx, "user-1", "account", "read", true, "All policy conditions satisfied", 12)
		require.NoError(t, err)
		assert.Equal(t, audit.TypeAuthorization, ev.Type)
		assert.Equal(t, audit.SeverityInfo, ev.Severity)
		assert.Equal(t, "authorization_granted", ev.Action)
		assert.Equal(t, "account", ev.Resource)
		assert.Equal(t, 12, ev.Details["risk_score"])
		assert.True(t, ev.Success)
	})

	t.Run("authorization denied logs at warning", func(t *testing.T) {
		ev, err := f.logger.LogAuthorization(ctx, "user-1", "account", "write", false, "Policy conditions not met", 72)
		require.NoError(t, err)
		assert.Equal(t, audit.SeverityWarning, ev.Severity)
		assert.Equal(t, "authorization_denied", ev.Action)
		assert.Equal(t, "Policy conditions not met", ev.Details["reason"])
		assert.False(t, ev.Success)
	})

	t.Run("transaction merges extra details", func(t *testing.T) {
		ev, err := f.logger.LogTransaction(ctx, "user-1", "transfer", 2500, "ACC-123", true, "txn-9", map[string]any{"channel": "web"})
		require.NoError(t, err)
		assert.Equal(t, audit.TypeTransaction, ev.Type)
		assert.Equal(t, audit.SeverityInfo, ev.Severity)
		assert.Equal(t, "transaction_transfer", ev.Action)
		assert.Equal(t, "transaction", ev.Resource)
		assert.Equal(t, map[string]any{
			"transaction_type": "transfer",
			"amount":           2500.0,
			"account_id":       "ACC-123",
			"transaction_id":   "txn-9",
			"channel":          "web",
		}, ev.Details)
	})

	t.Run("failed transaction logs at error", func(t *testing.T) {
		ev, err := f.logger.LogTransaction(ctx, "user-1", "withdrawal", 900, "ACC-123", false, "", nil)
		require.NoError(t, err)
		assert.Equal(t, audit.SeverityError, ev.Severity)
		assert.NotContains(t, ev.Details, "transaction_id")
		assert.False(t, ev.Success)
	})

	t.Run("data access", func(t *testing.T) {
		ev, err := f.logger.LogDataAccess(ctx, "user-1", "statements", "statements_read", 12, "last_90_days")
		require.NoError(t, err)
		assert.Equal(t, audit.TypeDataAccess, ev.Type)
		assert.Equal(t, audit.SeverityInfo, ev.Severity)
		assert.Equal(t, "statements_read", ev.Action)
		assert.Equal(t, 12, ev.Details["record_count"])
		assert.Equal(t, "last_90_days", ev.Details["query"])
		assert.True(t, ev.Success)
	})

	t.Run("security event", func(t *testing.T) {
		ev, err := f.logger.LogSecurityEvent(ctx, "account_lockout", audit.SeverityCritical, "user-1", map[string]any{"attempts": 5}, "192.0.2.10")
		require.NoError(t, err)
		assert.Equal(t, audit.TypeSecurityEvent, ev.Type)
		assert.Equal(t, audit.SeverityCritical, ev.Severity)
		assert.Equal(t, "account_lockout", ev.Action)
		assert.Equal(t, "192.0.2.10", ev.IPAddress)
	})
}

func TestMirrorsToProcessLog(t *testing.T) {
	var buf bytes.Buffer
	f := newTestLogger(t, func(cfg *audit.LoggerConfig) {
		cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	})
	ctx := context.Background()

	_, err := f.logger.LogSecurityEvent(ctx, "token_reuse", audit.SeverityCritical, "user-1", nil, "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "msg=audit.event")
	assert.Contains(t, buf.String(), "security=true")

	buf.Reset()
	_, err = f.logger.LogAuthorization(ctx, "user-1", "account", "write", false, "Policy conditions not met", 40)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.NotContains(t, buf.String(), "security=true")
}

func TestLogEventFailsClosedWhenStoreIsDown(t *testing.T) {
	f := newTestLogger(t)
	f.mr.Close()

	ev, err := f.logger.LogEvent(context.Background(), audit.Event{
		Type:     audit.TypeAuthentication,
		Severity: audit.SeverityInfo,
		Action:   "authentication_password_success",
		Success:  true,
	})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Zero(t, ev)
}
