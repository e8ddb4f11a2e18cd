package decision_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/risk"
)

// identityStub plays the context provider. Tests mutate its fields to
// shape the caller the middleware sees.
type identityStub struct {
	userID string
	ac     domain.AccessContext
	err    error
}

func (s *identityStub) provide(*http.Request) (string, domain.AccessContext, error) {
	return s.userID, s.ac, s.err
}

type middlewareFixture struct {
	*pepFixture
	mw       *decision.Middleware
	identity *identityStub

	// gotCaller and gotDecision are set by the inner handler when the
	// request makes it through.
	gotCaller   *decision.Caller
	gotDecision *decision.Decision
	handler     http.Handler
}

func newTestMiddleware(t *testing.T, opts ...func(*fixtureConfig)) *middlewareFixture {
	t.Helper()

	f := newTestPEP(t, opts...)
	stub := &identityStub{userID: "user-1", ac: verifiedContext()}
	mw, err := decision.NewMiddleware(decision.MiddlewareConfig{
		PEP: f.pep,
		Table: decision.RouteTable{
			"GET /accounts":      {Resource: "account", Action: "read"},
			"PUT /accounts":      {Resource: "account", Action: "write"},
			"GET /accounts/{id}": {Resource: "account", Action: "read"},
		},
		Identify: stub.provide,
	})
	require.NoError(t, err)

	mf := &middlewareFixture{pepFixture: f, mw: mw, identity: stub}
	mf.handler = mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := decision.CallerFromContext(r.Context()); ok {
			mf.gotCaller = &c
		}
		if d, ok := decision.DecisionFromContext(r.Context()); ok {
			mf.gotDecision = &d
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	return mf
}

func (f *middlewareFixture) serve(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWrapAllowsRoutedRequest(t *testing.T) {
	f := newTestMiddleware(t)
	f.seedQuiet(t)

	rec := f.serve(http.MethodGet, "/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	require.NotNil(t, f.gotCaller)
	assert.Equal(t, "user-1", f.gotCaller.UserID)
	assert.Equal(t, "casey", f.gotCaller.Context.Username)
	require.NotNil(t, f.gotDecision)
	assert.Equal(t, "account_read", f.gotDecision.PolicyID)
	assert.True(t, f.gotDecision.Allowed)
}

func TestWrapDeniesUnroutedPath(t *testing.T) {
	f := newTestMiddleware(t)

	rec := f.serve(http.MethodDelete, "/accounts")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "Access Denied", body["error"])
	assert.Equal(t, "No route policy", body["reason"])
	assert.Equal(t, []any{}, body["failed_conditions"])
	assert.Nil(t, f.gotCaller, "the handler behind the middleware never ran")
}

func TestWrapRequiresIdentity(t *testing.T) {
	t.Run("anonymous request", func(t *testing.T) {
		f := newTestMiddleware(t)
		f.identity.userID = ""

		rec := f.serve(http.MethodGet, "/accounts")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Authentication Required", decodeBody(t, rec)["error"])
	})

	t.Run("expired token", func(t *testing.T) {
		f := newTestMiddleware(t)
		f.identity.err = domain.ErrTokenExpired

		rec := f.serve(http.MethodGet, "/accounts")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Authentication Required", decodeBody(t, rec)["error"])
	})

	t.Run("identity lookup outage is not an authentication failure", func(t *testing.T) {
		f := newTestMiddleware(t)
		f.identity.err = domain.ErrUnavailable

		rec := f.serve(http.MethodGet, "/accounts")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "Service Unavailable", decodeBody(t, rec)["error"])
	})
}

func TestWrapRendersDenial(t *testing.T) {
	f := newTestMiddleware(t, withWeights(map[string]int{risk.IndicatorHighTransaction: 75}))
	f.seedQuiet(t)
	f.identity.ac = spendingContext()

	rec := f.serve(http.MethodGet, "/accounts")
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Access Denied", body["error"])
	assert.Equal(t, "Policy conditions not met", body["reason"])
	assert.Equal(t, "account_read", body["policy_id"])
	assert.Equal(t, []any{"risk_score (exceeds max)"}, body["failed_conditions"])
	assert.Equal(t, "high", body["risk_level"])
}

func TestWrapRendersStepUpChallenge(t *testing.T) {
	f := newTestMiddleware(t, withWeights(map[string]int{risk.IndicatorHighTransaction: 85}))
	f.seedQuiet(t)
	f.identity.ac = spendingContext()

	rec := f.serve(http.MethodPut, "/accounts")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Additional Verification Required", body["error"])
	assert.Equal(t, "High risk activity detected", body["reason"])
	assert.Equal(t, []any{"mfa", "security_question"}, body["required_methods"])
	assert.Equal(t, 85.0, body["risk_score"])
}

func TestWrapFailsClosedWhenStoreIsDown(t *testing.T) {
	f := newTestMiddleware(t)
	f.seedQuiet(t)
	f.mr.Close()

	rec := f.serve(http.MethodGet, "/accounts")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service Unavailable", decodeBody(t, rec)["error"])
}

func TestWrapMatchesMuxPatterns(t *testing.T) {
	t.Run("a mux-routed request is matched by its pattern", func(t *testing.T) {
		f := newTestMiddleware(t)
		f.seedQuiet(t)

		mux := http.NewServeMux()
		mux.Handle("GET /accounts/{id}", f.handler)

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/42", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.gotDecision)
		assert.Equal(t, "account_read", f.gotDecision.PolicyID)
	})

	t.Run("without a mux the raw path must match verbatim", func(t *testing.T) {
		f := newTestMiddleware(t)
		f.seedQuiet(t)

		rec := f.serve(http.MethodGet, "/accounts/42")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "No route policy", decodeBody(t, rec)["reason"])
	})
}
