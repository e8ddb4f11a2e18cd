package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Route names the resource and action a protected endpoint maps to.
type Route struct {
	Resource string
	Action   string
}

// RouteTable maps routes to their protection metadata. Keys are matched
// against the request's mux pattern when one routed it, otherwise against
// "METHOD /path" verbatim, so entries look like "GET /accounts" or
// "POST /transactions/{id}".
type RouteTable map[string]Route

// ContextProvider derives the caller identity and access context from an
// authenticated request. Returning an authentication error or an empty
// user id turns the request away before any decision is made.
type ContextProvider func(r *http.Request) (string, domain.AccessContext, error)

// Caller is the identity the middleware resolved for a request.
type Caller struct {
	UserID  string
	Context domain.AccessContext
}

type callerKey struct{}
type decisionKey struct{}

// CallerFromContext returns the identity the middleware resolved.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// DecisionFromContext returns the decision the middleware enforced.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	dec, ok := ctx.Value(decisionKey{}).(Decision)
	return dec, ok
}

// Middleware enforces a route table over an HTTP handler tree. Every
// request passing through must be named in the table; unlisted routes are
// denied. Public endpoints belong outside the wrapped tree.
type Middleware struct {
	pep      *PEP
	table    RouteTable
	identify ContextProvider
	logger   *slog.Logger
}

// MiddlewareConfig carries the dependencies for NewMiddleware. PEP, Table
// and Identify are required.
type MiddlewareConfig struct {
	PEP      *PEP
	Table    RouteTable
	Identify ContextProvider
	Logger   *slog.Logger
}

// NewMiddleware builds the enforcement middleware.
func NewMiddleware(cfg MiddlewareConfig) (*Middleware, error) {
	if cfg.PEP == nil {
		return nil, fmt.Errorf("%w: middleware enforcement point", domain.ErrConfigRequired)
	}
	if len(cfg.Table) == 0 {
		return nil, fmt.Errorf("%w: middleware route table", domain.ErrConfigRequired)
	}
	if cfg.Identify == nil {
		return nil, fmt.Errorf("%w: middleware context provider", domain.ErrConfigRequired)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		pep:      cfg.PEP,
		table:    cfg.Table,
		identify: cfg.Identify,
		logger:   logger,
	}, nil
}

// Wrap returns a handler that enforces the route table before next runs.
// The resolved caller and decision travel in the request context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := m.table[routeKey(r)]
		if !ok {
			m.logger.WarnContext(r.Context(), "access.unrouted",
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeJSON(w, http.StatusForbidden, denialBody{
				Error:            "Access Denied",
				Reason:           "No route policy",
				FailedConditions: []string{},
			})
			return
		}

		userID, ac, err := m.identify(r)
		if err == nil && userID == "" {
			err = domain.ErrAuthRequired
		}
		if err != nil {
			if domain.IsAuthnFailure(err) {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication Required"})
			} else {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Service Unavailable"})
			}
			return
		}

		dec, err := m.pep.Enforce(r.Context(), userID, route.Resource, route.Action, ac)
		if err != nil {
			m.deny(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, Caller{UserID: userID, Context: ac})
		ctx = context.WithValue(ctx, decisionKey{}, dec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deny renders an enforcement error. Forbidden responses carry the policy
// attribution; step-up challenges list the accepted methods.
func (m *Middleware) deny(w http.ResponseWriter, err error) {
	var denial *DenialError
	if errors.As(err, &denial) {
		failed := denial.Decision.FailedConditions
		if failed == nil {
			failed = []string{}
		}
		writeJSON(w, http.StatusForbidden, denialBody{
			Error:            "Access Denied",
			Reason:           denial.Decision.Reason,
			PolicyID:         denial.Decision.PolicyID,
			FailedConditions: failed,
			RiskLevel:        string(denial.Decision.RiskLevel),
		})
		return
	}
	var stepUp *StepUpError
	if errors.As(err, &stepUp) {
		writeJSON(w, http.StatusUnauthorized, stepUpBody{
			Error:           "Additional Verification Required",
			Reason:          "High risk activity detected",
			RequiredMethods: stepUp.Methods,
			RiskScore:       stepUp.RiskScore,
		})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Service Unavailable"})
}

func routeKey(r *http.Request) string {
	// Pattern is set once a ServeMux routed the request, and carries the
	// method and path parameters the raw URL cannot.
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

type errorBody struct {
	Error string `json:"error"`
}

type denialBody struct {
	Error            string   `json:"error"`
	Reason           string   `json:"reason"`
	PolicyID         string   `json:"policy_id,omitempty"`
	FailedConditions []string `json:"failed_conditions"`
	RiskLevel        string   `json:"risk_level,omitempty"`
}

type stepUpBody struct {
	Error           string   `json:"error"`
	Reason          string   `json:"reason"`
	RequiredMethods []string `json:"required_methods"`
	RiskScore       int      `json:"risk_score"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
