// Package decision hosts the policy decision point and its enforcement
// face. The decision point scores the request, evaluates policy over the
// enriched context, buckets the risk and records the outcome in audit
// before anything is returned; the enforcement point turns denials into
// typed errors and HTTP responses. A decision that cannot be completed or
// recorded is a denial, never an allow.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
)

var tracer = otel.Tracer("decision")

var (
	decisionsTotal metric.Int64Counter
	stepUpsTotal   metric.Int64Counter
)

func init() {
	meter := otel.Meter("decision")
	decisionsTotal, _ = meter.Int64Counter("authz_decisions_total",
		metric.WithDescription("Authorization decisions, by outcome and risk level"))
	stepUpsTotal, _ = meter.Int64Counter("step_up_challenges_total",
		metric.WithDescription("Allowed decisions that demanded additional verification"))
}

// Deny reasons minted by the decision point itself when the pipeline
// fails. Policy-sourced reasons come from the policy package.
const (
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "service_unavailable"
)

// RiskScorer produces the risk assessment for one request.
type RiskScorer interface {
	ScoreRequest(ctx context.Context, ac domain.AccessContext) (risk.Assessment, error)
}

// PolicyEvaluator renders the policy verdict for one resource and action.
type PolicyEvaluator interface {
	Evaluate(resource, action string, ac domain.AccessContext) policy.Decision
}

// Auditor records authorization outcomes.
type Auditor interface {
	LogAuthorization(ctx context.Context, userID, resource, action string, allowed bool, reason string, riskScore int) (audit.Event, error)
}

// Decision is the full authorization verdict for one request.
type Decision struct {
	policy.Decision

	UserID    string           `json:"user_id"`
	Resource  string           `json:"resource"`
	Action    string           `json:"action"`
	RiskScore int              `json:"risk_score"`
	RiskLevel domain.RiskLevel `json:"risk_level,omitempty"`

	// RequiresAdditionalVerification is set on allowed decisions whose
	// risk score crossed the step-up line; the listed methods satisfy it.
	RequiresAdditionalVerification bool     `json:"requires_additional_verification,omitempty"`
	AdditionalVerificationMethods  []string `json:"additional_verification_methods,omitempty"`
}

// Thresholds carries the risk-level boundaries, exclusive upper bounds.
type Thresholds struct {
	Low    int
	Medium int
	High   int
}

// DefaultThresholds returns the compiled risk-level boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Low:    domain.RiskThresholdLow,
		Medium: domain.RiskThresholdMedium,
		High:   domain.RiskThresholdHigh,
	}
}

// PDP makes authorization decisions. Safe for concurrent use.
type PDP struct {
	scorer     RiskScorer
	engine     PolicyEvaluator
	auditor    Auditor
	clock      domain.Clock
	logger     *slog.Logger
	thresholds Thresholds
}

// PDPConfig carries the dependencies for NewPDP. Scorer, Engine and
// Auditor are required.
type PDPConfig struct {
	Scorer  RiskScorer
	Engine  PolicyEvaluator
	Auditor Auditor
	Clock   domain.Clock
	// Thresholds defaults to the compiled risk-level boundaries.
	Thresholds Thresholds
	Logger     *slog.Logger
}

// NewPDP builds a PDP. A decision point without an auditor could emit
// unrecorded decisions, so all three collaborators are mandatory.
func NewPDP(cfg PDPConfig) (*PDP, error) {
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("%w: decision scorer", domain.ErrConfigRequired)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: decision engine", domain.ErrConfigRequired)
	}
	if cfg.Auditor == nil {
		return nil, fmt.Errorf("%w: decision auditor", domain.ErrConfigRequired)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	thresholds := cfg.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PDP{
		scorer:     cfg.Scorer,
		engine:     cfg.Engine,
		auditor:    cfg.Auditor,
		clock:      clock,
		logger:     logger,
		thresholds: thresholds,
	}, nil
}

// MakeDecision renders the authorization verdict for one request: score,
// enrich, evaluate, bucket the risk, flag step-up and record in audit.
//
// When the pipeline itself fails the returned decision is a denial with
// reason "timeout" or "service_unavailable" and the error names the
// cause. The returned decision is never allowed when err is non-nil, and
// every decision, including those failure denials, is recorded in audit
// before it is returned.
func (p *PDP) MakeDecision(ctx context.Context, userID, resource, action string, ac domain.AccessContext) (Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.make",
		trace.WithAttributes(
			attribute.String("resource", resource),
			attribute.String("action", action),
		))
	defer span.End()

	asm, err := p.scorer.ScoreRequest(ctx, ac)
	if err != nil {
		return p.failClosed(ctx, span, userID, resource, action, err)
	}

	enriched := ac.WithDecision(asm.Score, p.clock.Now())
	verdict := p.engine.Evaluate(resource, action, enriched)

	dec := Decision{
		Decision:  verdict,
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		RiskScore: asm.Score,
		RiskLevel: domain.RiskLevelFor(asm.Score, p.thresholds.Low, p.thresholds.Medium, p.thresholds.High),
	}
	if dec.Allowed && asm.Score > domain.StepUpRiskScore {
		dec.RequiresAdditionalVerification = true
		dec.AdditionalVerificationMethods = append([]string(nil), domain.StepUpMethods...)
		stepUpsTotal.Add(ctx, 1)
	}

	// An unrecorded decision must not leave the decision point.
	if _, err := p.auditor.LogAuthorization(ctx, userID, resource, action, dec.Allowed, dec.Reason, dec.RiskScore); err != nil {
		return p.failClosed(ctx, span, userID, resource, action, err)
	}

	decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allowed", dec.Allowed),
		attribute.String("risk_level", string(dec.RiskLevel)),
	))
	span.SetAttributes(
		attribute.Bool("allowed", dec.Allowed),
		attribute.Int("risk_score", dec.RiskScore),
	)
	p.mirror(ctx, dec)
	return dec, nil
}

// failClosed denies a request whose decision pipeline failed. The audit
// write runs on a detached context so a canceled request cannot suppress
// the record it owes.
func (p *PDP) failClosed(ctx context.Context, span trace.Span, userID, resource, action string, cause error) (Decision, error) {
	reason := ReasonUnavailable
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	dec := Decision{
		Decision: policy.Decision{Reason: reason},
		UserID:   userID,
		Resource: resource,
		Action:   action,
	}

	auditCtx := context.WithoutCancel(ctx)
	if _, aerr := p.auditor.LogAuthorization(auditCtx, userID, resource, action, false, reason, 0); aerr != nil {
		// The store is gone too; the process log below is the surviving
		// record of this denial.
		cause = errors.Join(cause, aerr)
	}
	p.logger.ErrorContext(auditCtx, "decision.failed",
		"user_id", userID,
		"resource", resource,
		"action", action,
		"reason", reason,
		"err", cause,
	)
	decisionsTotal.Add(auditCtx, 1, metric.WithAttributes(
		attribute.Bool("allowed", false),
		attribute.String("risk_level", ""),
	))
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return dec, fmt.Errorf("make decision %s %s: %w", resource, action, cause)
}

func (p *PDP) mirror(ctx context.Context, dec Decision) {
	attrs := []any{
		"user_id", dec.UserID,
		"resource", dec.Resource,
		"action", dec.Action,
		"reason", dec.Reason,
		"risk_score", dec.RiskScore,
		"risk_level", string(dec.RiskLevel),
	}
	if dec.PolicyID != "" {
		attrs = append(attrs, "policy_id", dec.PolicyID)
	}
	if dec.Allowed {
		p.logger.InfoContext(ctx, "decision.granted", attrs...)
	} else {
		p.logger.WarnContext(ctx, "decision.denied", attrs...)
	}
}
