package policy

import (
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Decision reason strings. They are part of the decision wire format and
// appear in audit details.
const (
	ReasonAllConditionsSatisfied = "All policy conditions satisfied"
	ReasonConditionsNotMet       = "Policy conditions not met"
	ReasonNoMatchingPolicy       = "No matching policy found"
)

// Decision is the outcome of evaluating one (resource, action, context)
// tuple against the document.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`

	// PolicyID names the allowing policy, or the first matching policy on
	// a conditions denial. Empty when nothing matched.
	PolicyID string `json:"policy_id,omitempty"`

	// FailedConditions labels the conditions of the attributed policy that
	// did not hold, in declaration order. Set only on a conditions denial.
	FailedConditions []string `json:"failed_conditions,omitempty"`
}

// Engine evaluates requests against an immutable document. Safe for
// concurrent use; evaluation touches no shared mutable state.
type Engine struct {
	doc    *Document
	logger *slog.Logger
}

// EngineConfig carries the dependencies for NewEngine.
type EngineConfig struct {
	Document *Document
	Logger   *slog.Logger
}

// NewEngine builds an Engine over a loaded document.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Document == nil {
		return nil, domain.ErrConfigRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{doc: cfg.Document, logger: logger}, nil
}

// Document returns the engine's document. Callers must not mutate it.
func (e *Engine) Document() *Document {
	return e.doc
}

// Evaluate decides whether the context may perform action on resource.
// Matching policies are tried in declaration order and the first whose
// conditions all hold allows the request. When none allows, the denial is
// attributed to the first matching policy and carries its failed
// conditions. No matching policy at all is a denial with no attribution.
func (e *Engine) Evaluate(resource, action string, ac domain.AccessContext) Decision {
	var (
		firstMatch  *Policy
		firstFailed []string
	)
	for i := range e.doc.Policies {
		p := &e.doc.Policies[i]
		if !p.Matches(resource, action) {
			continue
		}
		failed := p.failedConditions(ac)
		if len(failed) == 0 {
			e.logger.Info("policy.granted",
				"policy_id", p.ID,
				"resource", resource,
				"action", action,
			)
			return Decision{
				Allowed:  true,
				Reason:   ReasonAllConditionsSatisfied,
				PolicyID: p.ID,
			}
		}
		if firstMatch == nil {
			firstMatch = p
			firstFailed = failed
		}
	}

	if firstMatch == nil {
		e.logger.Warn("policy.unmatched",
			"resource", resource,
			"action", action,
		)
		return Decision{Allowed: false, Reason: ReasonNoMatchingPolicy}
	}

	e.logger.Warn("policy.denied",
		"policy_id", firstMatch.ID,
		"resource", resource,
		"action", action,
		"failed_conditions", firstFailed,
	)
	return Decision{
		Allowed:          false,
		Reason:           ReasonConditionsNotMet,
		PolicyID:         firstMatch.ID,
		FailedConditions: firstFailed,
	}
}

// failedConditions evaluates every condition and labels the ones that did
// not hold, in declaration order.
func (p *Policy) failedConditions(ac domain.AccessContext) []string {
	var failed []string
	for _, cond := range p.Conditions {
		value, present := ac.Attribute(cond.Key)
		failed = append(failed, cond.Predicate.failures(cond.Key, value, present)...)
	}
	return failed
}
