package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// PermissionActions is the fixed verb set permission tables cover.
var PermissionActions = []string{"read", "write", "create", "delete", "execute"}

// DenialError is returned by Enforce when policy denies the request. It
// carries the full decision so boundaries can name the policy, the failed
// conditions and the risk level.
type DenialError struct {
	Decision Decision
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("access to %s %s denied: %s", e.Decision.Resource, e.Decision.Action, e.Decision.Reason)
}

// Unwrap ties the denial into the domain error taxonomy.
func (e *DenialError) Unwrap() error { return domain.ErrAccessDenied }

// StepUpError is returned by Enforce when the request is allowed only
// after additional verification.
type StepUpError struct {
	Methods   []string
	RiskScore int
}

func (e *StepUpError) Error() string {
	return fmt.Sprintf("additional verification required (risk score %d)", e.RiskScore)
}

// Unwrap ties the challenge into the domain error taxonomy.
func (e *StepUpError) Unwrap() error { return domain.ErrStepUpRequired }

// PEP enforces decisions: allowed requests pass, everything else becomes
// a typed error. Safe for concurrent use.
type PEP struct {
	pdp    *PDP
	logger *slog.Logger
}

// PEPConfig carries the dependencies for NewPEP.
type PEPConfig struct {
	PDP    *PDP
	Logger *slog.Logger
}

// NewPEP builds a PEP around the decision point.
func NewPEP(cfg PEPConfig) (*PEP, error) {
	if cfg.PDP == nil {
		return nil, fmt.Errorf("%w: enforcement decision point", domain.ErrConfigRequired)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PEP{pdp: cfg.PDP, logger: logger}, nil
}

// Enforce renders the decision and converts anything but a clean allow
// into an error: DenialError for policy denials, StepUpError for allowed
// decisions that demand additional verification, and the pipeline error
// itself when the decision could not be completed.
func (e *PEP) Enforce(ctx context.Context, userID, resource, action string, ac domain.AccessContext) (Decision, error) {
	dec, err := e.pdp.MakeDecision(ctx, userID, resource, action, ac)
	if err != nil {
		return dec, err
	}
	if !dec.Allowed {
		e.logger.WarnContext(ctx, "access.denied",
			"user_id", userID,
			"resource", resource,
			"action", action,
			"reason", dec.Reason,
		)
		return dec, &DenialError{Decision: dec}
	}
	if dec.RequiresAdditionalVerification {
		e.logger.InfoContext(ctx, "access.step_up",
			"user_id", userID,
			"resource", resource,
			"action", action,
			"risk_score", dec.RiskScore,
		)
		return dec, &StepUpError{Methods: dec.AdditionalVerificationMethods, RiskScore: dec.RiskScore}
	}
	return dec, nil
}

// CheckPermission reports whether the user may act right now, without
// step-up. All failures read as no permission.
func (e *PEP) CheckPermission(ctx context.Context, userID, resource, action string, ac domain.AccessContext) bool {
	dec, err := e.pdp.MakeDecision(ctx, userID, resource, action, ac)
	if err != nil {
		return false
	}
	return dec.Allowed && !dec.RequiresAdditionalVerification
}

// UserPermissions builds the resource by action truth table for the fixed
// verb set. Meant for interfaces deciding what to offer; each cell is a
// full decision, so large resource lists are not free.
func (e *PEP) UserPermissions(ctx context.Context, userID string, resources []string, ac domain.AccessContext) map[string]map[string]bool {
	perms := make(map[string]map[string]bool, len(resources))
	for _, resource := range resources {
		cells := make(map[string]bool, len(PermissionActions))
		for _, action := range PermissionActions {
			cells[action] = e.CheckPermission(ctx, userID, resource, action, ac)
		}
		perms[resource] = cells
	}
	return perms
}
