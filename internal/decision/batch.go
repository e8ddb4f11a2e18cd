package decision

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// BatchItem names one resource and action to evaluate.
type BatchItem struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// BatchEvaluate renders a decision for every item against one shared
// context, in order. Items are independent: there is no atomicity across
// the batch, and each item scores the context again, so per-request side
// effects such as the velocity counter advance once per item.
//
// Evaluation stops at the first pipeline failure; decisions made up to
// and including the failed item are returned alongside the error.
func (p *PDP) BatchEvaluate(ctx context.Context, userID string, items []BatchItem, ac domain.AccessContext) ([]Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.batch",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	decisions := make([]Decision, 0, len(items))
	for _, item := range items {
		dec, err := p.MakeDecision(ctx, userID, item.Resource, item.Action, ac)
		decisions = append(decisions, dec)
		if err != nil {
			return decisions, spanErr(span, err)
		}
	}
	return decisions, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
