package decision_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/domain/domaintest"
	"github.com/Harshith2412/zta-finance/internal/kv"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
)

// testPolicies covers the three condition shapes: booleans, a risk score
// range and a role list. account_read caps risk at 60 so a hot context
// trips it; account_write tolerates up to 90 so step-up can fire on an
// allowed decision.
const testPolicies = `{
  "policies": [
    {
      "id": "account_read",
      "resource": "account",
      "action": "read",
      "conditions": {
        "user_verified": true,
        "risk_score": {"max": 60}
      }
    },
    {
      "id": "account_write",
      "resource": "account",
      "action": "write",
      "conditions": {
        "user_verified": true,
        "device_trusted": true,
        "risk_score": {"max": 90}
      }
    },
    {
      "id": "admin_area",
      "resource": "admin",
      "action": "*",
      "conditions": {
        "roles": ["admin", "auditor"]
      }
    }
  ]
}`

type pdpFixture struct {
	pdp   *decision.PDP
	audit *audit.Logger
	store kv.Store
	mr    *miniredis.Miniredis
	clock *domaintest.FakeClock
}

type fixtureConfig struct {
	// weights overrides risk indicator weights, the lever the tests use
	// to dial a context to an exact score.
	weights map[string]int
	// auditor replaces the real audit logger when set.
	auditor decision.Auditor
}

func withWeights(weights map[string]int) func(*fixtureConfig) {
	return func(fc *fixtureConfig) { fc.weights = weights }
}

func withAuditor(a decision.Auditor) func(*fixtureConfig) {
	return func(fc *fixtureConfig) { fc.auditor = a }
}

func newTestPDP(t *testing.T, opts ...func(*fixtureConfig)) *pdpFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := kv.NewClient(kv.Config{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	clock := domaintest.NewFakeClockAtEpoch()

	var fc fixtureConfig
	for _, opt := range opts {
		opt(&fc)
	}

	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	engine, err := policy.NewEngine(policy.EngineConfig{Document: doc})
	require.NoError(t, err)

	analyzer := risk.NewAnalyzer(risk.AnalyzerConfig{
		Store:   client,
		Clock:   clock,
		Weights: fc.weights,
	})
	auditLog := audit.NewLogger(audit.LoggerConfig{Store: client, Clock: clock})

	auditor := decision.Auditor(auditLog)
	if fc.auditor != nil {
		auditor = fc.auditor
	}

	pdp, err := decision.NewPDP(decision.PDPConfig{
		Scorer:  analyzer,
		Engine:  engine,
		Auditor: auditor,
		Clock:   clock,
	})
	require.NoError(t, err)

	return &pdpFixture{
		pdp:   pdp,
		audit: auditLog,
		store: client,
		mr:    mr,
		clock: clock,
	}
}

// seedQuiet makes the baseline context score zero: its location is already
// known and its device already has a record.
func (f *pdpFixture) seedQuiet(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SAdd(ctx, "user_locations/user-1", "US:New York"))
	require.NoError(t, f.store.Set(ctx, "device/user-1/dev-1", "{}", 0))
}

// verifiedContext pairs with seedQuiet: a verified account holder on a
// trusted device from a known location at mid-day scores zero.
func verifiedContext() domain.AccessContext {
	return domain.AccessContext{
		UserID:        "user-1",
		Username:      "casey",
		Roles:         []string{"account_holder"},
		UserVerified:  true,
		DeviceTrusted: true,
		DeviceID:      "dev-1",
		IPAddress:     "192.0.2.10",
		Location:      domain.MustLocation("US:New York"),
	}
}

// spendingContext adds a transaction amount above the high-value line, the
// single indicator the tests reweight to reach an exact score.
func spendingContext() domain.AccessContext {
	ac := verifiedContext()
	amount := 15000.0
	ac.Amount = &amount
	return ac
}

func TestMakeDecisionAllows(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)
	ctx := context.Background()

	dec, err := f.pdp.MakeDecision(ctx, "user-1", "account", "read", verifiedContext())
	require.NoError(t, err)

	assert.True(t, dec.Allowed)
	assert.Equal(t, policy.ReasonAllConditionsSatisfied, dec.Reason)
	assert.Equal(t, "account_read", dec.PolicyID)
	assert.Equal(t, "user-1", dec.UserID)
	assert.Equal(t, "account", dec.Resource)
	assert.Equal(t, "read", dec.Action)
	assert.Zero(t, dec.RiskScore)
	assert.Equal(t, domain.RiskLow, dec.RiskLevel)
	assert.False(t, dec.RequiresAdditionalVerification)
	assert.Empty(t, dec.AdditionalVerificationMethods)

	// The grant was recorded before the decision came back.
	events, err := f.audit.UserEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.TypeAuthorization, events[0].Type)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
	assert.Equal(t, "authorization_granted", events[0].Action)
	assert.True(t, events[0].Success)
	assert.Equal(t, policy.ReasonAllConditionsSatisfied, events[0].Details["reason"])
	assert.Equal(t, 0.0, events[0].Details["risk_score"])
}

func TestMakeDecisionDeniesOnConditions(t *testing.T) {
	f := newTestPDP(t, withWeights(map[string]int{risk.IndicatorHighTransaction: 75}))
	f.seedQuiet(t)
	ctx := context.Background()

	dec, err := f.pdp.MakeDecision(ctx, "user-1", "account", "read", spendingContext())
	require.NoError(t, err)

	assert.False(t, dec.Allowed)
	assert.Equal(t, policy.ReasonConditionsNotMet, dec.Reason)
	assert.Equal(t, "account_read", dec.PolicyID)
	assert.Equal(t, []string{"risk_score (exceeds max)"}, dec.FailedConditions)
	assert.Equal(t, 75, dec.RiskScore)
	assert.Equal(t, domain.RiskHigh, dec.RiskLevel)
	assert.False(t, dec.RequiresAdditionalVerification)

	// A denial leaves exactly one warning-severity record behind.
	events, err := f.audit.UserEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
	assert.Equal(t, "authorization_denied", events[0].Action)
	assert.False(t, events[0].Success)
	assert.Equal(t, 75.0, events[0].Details["risk_score"])
}

func TestMakeDecisionStepUp(t *testing.T) {
	ctx := context.Background()

	t.Run("critical score on an allowed decision demands step-up", func(t *testing.T) {
		f := newTestPDP(t, withWeights(map[string]int{risk.IndicatorHighTransaction: 85}))
		f.seedQuiet(t)

		dec, err := f.pdp.MakeDecision(ctx, "user-1", "account", "write", spendingContext())
		require.NoError(t, err)

		assert.True(t, dec.Allowed)
		assert.Equal(t, 85, dec.RiskScore)
		assert.Equal(t, domain.RiskCritical, dec.RiskLevel)
		assert.True(t, dec.RequiresAdditionalVerification)
		assert.Equal(t, []string{"mfa", "security_question"}, dec.AdditionalVerificationMethods)

		// Still an allow in the audit trail; the challenge is the
		// caller's problem.
		events, err := f.audit.UserEvents(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "authorization_granted", events[0].Action)
		assert.Equal(t, audit.SeverityInfo, events[0].Severity)
	})

	t.Run("a score at the step-up line passes without a challenge", func(t *testing.T) {
		f := newTestPDP(t, withWeights(map[string]int{risk.IndicatorHighTransaction: domain.StepUpRiskScore}))
		f.seedQuiet(t)

		dec, err := f.pdp.MakeDecision(ctx, "user-1", "account", "write", spendingContext())
		require.NoError(t, err)

		assert.True(t, dec.Allowed)
		assert.Equal(t, domain.StepUpRiskScore, dec.RiskScore)
		assert.False(t, dec.RequiresAdditionalVerification)
	})

	t.Run("a denied decision never carries a challenge", func(t *testing.T) {
		f := newTestPDP(t, withWeights(map[string]int{risk.IndicatorHighTransaction: 85}))
		f.seedQuiet(t)

		dec, err := f.pdp.MakeDecision(ctx, "user-1", "account", "read", spendingContext())
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.False(t, dec.RequiresAdditionalVerification)
		assert.Empty(t, dec.AdditionalVerificationMethods)
	})
}

func TestMakeDecisionDeniesUnmatchedResource(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)
	ctx := context.Background()

	dec, err := f.pdp.MakeDecision(ctx, "user-1", "vault", "read", verifiedContext())
	require.NoError(t, err)

	assert.False(t, dec.Allowed)
	assert.Equal(t, policy.ReasonNoMatchingPolicy, dec.Reason)
	assert.Empty(t, dec.PolicyID)
	assert.Empty(t, dec.FailedConditions)

	events, err := f.audit.UserEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
	assert.Equal(t, policy.ReasonNoMatchingPolicy, events[0].Details["reason"])
}

func TestMakeDecisionDeniesMissingRole(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)
	ctx := context.Background()

	dec, err := f.pdp.MakeDecision(ctx, "user-1", "admin", "read", verifiedContext())
	require.NoError(t, err)

	assert.False(t, dec.Allowed)
	assert.Equal(t, "admin_area", dec.PolicyID)
	assert.Equal(t, []string{"roles"}, dec.FailedConditions)
}

func TestMakeDecisionFailsClosedWhenStoreIsDown(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)
	f.mr.Close()

	dec, err := f.pdp.MakeDecision(context.Background(), "user-1", "account", "read", verifiedContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	assert.False(t, dec.Allowed)
	assert.Equal(t, decision.ReasonUnavailable, dec.Reason)
	assert.Empty(t, dec.RiskLevel)
}

func TestMakeDecisionCancelledRequestStillAudited(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	dec, err := f.pdp.MakeDecision(cancelled, "user-1", "account", "read", verifiedContext())
	require.Error(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, decision.ReasonTimeout, dec.Reason)

	// The denial was written through a detached context; the caller
	// walking away does not erase the record.
	events, err := f.audit.UserEvents(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "authorization_denied", events[0].Action)
	assert.Equal(t, decision.ReasonTimeout, events[0].Details["reason"])
	assert.False(t, events[0].Success)
}

// failingAuditor refuses every record.
type failingAuditor struct{ err error }

func (a failingAuditor) LogAuthorization(context.Context, string, string, string, bool, string, int) (audit.Event, error) {
	return audit.Event{}, a.err
}

func TestMakeDecisionDeniesWhenAuditFails(t *testing.T) {
	f := newTestPDP(t, withAuditor(failingAuditor{err: domain.ErrUnavailable}))
	f.seedQuiet(t)

	// Policy would have allowed this; with no record possible the answer
	// is still no.
	dec, err := f.pdp.MakeDecision(context.Background(), "user-1", "account", "read", verifiedContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.False(t, dec.Allowed)
	assert.Equal(t, decision.ReasonUnavailable, dec.Reason)
}

func TestNewPDPRequiresCollaborators(t *testing.T) {
	f := newTestPDP(t)

	base := decision.PDPConfig{
		Scorer:  risk.NewAnalyzer(risk.AnalyzerConfig{Store: f.store, Clock: f.clock}),
		Engine:  mustEngine(t),
		Auditor: f.audit,
	}

	t.Run("scorer", func(t *testing.T) {
		cfg := base
		cfg.Scorer = nil
		_, err := decision.NewPDP(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigRequired)
	})
	t.Run("engine", func(t *testing.T) {
		cfg := base
		cfg.Engine = nil
		_, err := decision.NewPDP(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigRequired)
	})
	t.Run("auditor", func(t *testing.T) {
		cfg := base
		cfg.Auditor = nil
		_, err := decision.NewPDP(cfg)
		assert.ErrorIs(t, err, domain.ErrConfigRequired)
	})
}

func mustEngine(t *testing.T) *policy.Engine {
	t.Helper()
	doc, err := policy.Parse([]byte(testPolicies))
	require.NoError(t, err)
	engine, err := policy.NewEngine(policy.EngineConfig{Document: doc})
	require.NoError(t, err)
	return engine
}

func TestBatchEvaluate(t *testing.T) {
	f := newTestPDP(t)
	f.seedQuiet(t)
	ctx := context.Background()

	items := []decision.BatchItem{
		{Resource: "account", Action: "read"},
		{Resource: "account", Action: "write"},
		{Resource: "vault", Action: "read"},
	}
	decisions, err := f.pdp.BatchEvaluate(ctx, "user-1", items, verifiedContext())
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	assert.True(t, decisions[0].Allowed)
	assert.Equal(t, "account_read", decisions[0].PolicyID)
	assert.True(t, decisions[1].Allowed)
	assert.Equal(t, "account_write", decisions[1].PolicyID)
	assert.False(t, decisions[2].Allowed)
	assert.Equal(t, policy.ReasonNoMatchingPolicy, decisions[2].Reason)

	// Each item scored the context again.
	velocity, err := f.mr.Get("request_velocity/user-1")
	require.NoError(t, err)
	assert.Equal(t, "3", velocity)

	events, err := f.audit.UserEvents(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "authorization_denied", events[0].Action, "newest event is the vault denial")
}

// flakyAuditor records through the real logger until its quota, then
// refuses everything.
type flakyAuditor struct {
	inner    decision.Auditor
	calls    int
	failFrom int
}

func (a *flakyAuditor) LogAuthorization(ctx context.Context, userID, resource, action string, allowed bool, reason string, riskScore int) (audit.Event, error) {
	a.calls++
	if a.calls >= a.failFrom {
		return audit.Event{}, domain.ErrUnavailable
	}
	return a.inner.LogAuthorization(ctx, userID, resource, action, allowed, reason, riskScore)
}

func TestBatchEvaluateReturnsPartialResultsOnFailure(t *testing.T) {
	flaky := &flakyAuditor{failFrom: 3}
	f := newTestPDP(t, withAuditor(flaky))
	flaky.inner = f.audit
	f.seedQuiet(t)

	items := []decision.BatchItem{
		{Resource: "account", Action: "read"},
		{Resource: "account", Action: "write"},
		{Resource: "account", Action: "read"},
	}
	decisions, err := f.pdp.BatchEvaluate(context.Background(), "user-1", items, verifiedContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	require.Len(t, decisions, 3)
	assert.True(t, decisions[0].Allowed)
	assert.True(t, decisions[1].Allowed)
	assert.False(t, decisions[2].Allowed, "the unrecordable item came back denied")
	assert.Equal(t, decision.ReasonUnavailable, decisions[2].Reason)
}
