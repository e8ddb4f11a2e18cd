package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// defaultQueryLimit bounds a query page when the caller does not.
const defaultQueryLimit = 100

// UserEvents returns the newest events for the user, most recent first.
// A limit of zero or less reads the default page; the trail itself holds
// at most the retention cap.
func (l *Logger) UserEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "audit.user_events",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := domain.ValidateID(userID); err != nil {
		return nil, spanErr(span, err)
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > domain.UserEventsLimit {
		limit = domain.UserEventsLimit
	}
	events, err := l.readStream(ctx, userEventsKey(userID), limit)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return events, nil
}

// RecentEvents returns the newest events for one UTC day, most recent
// first. An empty day means today; otherwise it must be in YYYYMMDD form.
func (l *Logger) RecentEvents(ctx context.Context, day string, limit int) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "audit.recent_events",
		trace.WithAttributes(attribute.String("day", day)))
	defer span.End()

	if day == "" {
		day = l.clock.Now().UTC().Format("20060102")
	} else if _, err := time.Parse("20060102", day); err != nil {
		return nil, spanErr(span, fmt.Errorf("%w: day %q", domain.ErrInvalidInput, day))
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	events, err := l.readStream(ctx, "audit/"+day, limit)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return events, nil
}

// readStream pages the head of an event list. Corrupt entries are skipped
// rather than poisoning the page.
func (l *Logger) readStream(ctx context.Context, key string, limit int) ([]Event, error) {
	raws, err := l.store.LRange(ctx, key, 0, int64(limit)-1)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := l.decode(raw)
		if err != nil {
			l.logger.WarnContext(ctx, "audit.decode_failed", "key", key, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// decode parses a stored event, opening sealed fields when the configured
// cipher can. Events sealed under a key this logger does not hold keep
// their sealed form rather than being dropped.
func (l *Logger) decode(raw string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if l.cipher == nil {
		return ev, nil
	}
	if ev.SealedDetails != "" {
		var details map[string]any
		if err := l.cipher.DecryptValue(ev.SealedDetails, &details); err == nil {
			ev.Details = details
			ev.SealedDetails = ""
		}
	}
	if ev.IPAddress != "" {
		var ip string
		if err := l.cipher.DecryptValue(ev.IPAddress, &ip); err == nil {
			ev.IPAddress = ip
		}
	}
	return ev, nil
}
