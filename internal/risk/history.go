package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// HistoryEntry is one persisted assessment in a user's risk trail,
// newest first.
type HistoryEntry struct {
	Score      int      `json:"score"`
	Indicators []string `json:"indicators"`
	Timestamp  string   `json:"timestamp"`
}

// appendHistory prepends the assessment to the user's trail, trims it to
// the retained length and re-arms the trail TTL.
func (a *Analyzer) appendHistory(ctx context.Context, userID string, asm Assessment) error {
	entry := HistoryEntry{
		Score:      asm.Score,
		Indicators: asm.Indicators,
		Timestamp:  domain.Timestamp(a.clock),
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode risk history entry: %w", err)
	}
	key := historyKey(userID)
	if err := a.store.LPush(ctx, key, string(buf)); err != nil {
		return fmt.Errorf("append risk history: %w", err)
	}
	if err := a.store.LTrim(ctx, key, 0, domain.RiskHistoryLimit-1); err != nil {
		return fmt.Errorf("trim risk history: %w", err)
	}
	if err := a.store.Expire(ctx, key, domain.RiskHistoryTTL); err != nil {
		return fmt.Errorf("expire risk history: %w", err)
	}
	return nil
}

// History returns the user's risk trail, newest first, at most limit
// entries. A non-positive or oversized limit reads the whole retained
// trail. Entries that no longer decode are skipped.
func (a *Analyzer) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "risk.history",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := domain.ValidateID(userID); err != nil {
		return nil, spanErr(span, err)
	}
	if limit <= 0 || limit > domain.RiskHistoryLimit {
		limit = domain.RiskHistoryLimit
	}
	raws, err := a.store.LRange(ctx, historyKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("read risk history: %w", err))
	}
	entries := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
