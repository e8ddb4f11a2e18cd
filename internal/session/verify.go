package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Anomaly names reported by Verify, in the order they are checked. They
// appear verbatim in audit details.
const (
	AnomalySessionNotFound = "session_not_found"
	AnomalyDeviceMismatch  = "device_mismatch"
	AnomalyIPChange        = "ip_address_change"
	AnomalySessionExpired  = "session_expired"
)

// Verification is the outcome of checking a presented session.
type Verification struct {
	// Valid is true only when the session exists, is inside its inactivity
	// window, and matches the presenting device and address.
	Valid bool

	// Anomalies lists everything that did not line up, in check order.
	Anomalies []string

	// Record is the session as read, also returned alongside non-terminal
	// anomalies so the caller can decide to demand step-up instead of
	// ending the session. Nil when the session is gone or expired.
	Record *Record
}

// Verify checks the session against the presenting device and peer address
// and reports anomalies. A mismatched binding leaves the session alive but
// invalid; expiry ends it. Any sighting of a live session counts as
// activity, anomalous or not, so a user answering a step-up challenge is
// not raced by the inactivity timer.
func (m *Manager) Verify(ctx context.Context, sessionID, deviceID, ipAddress string) (Verification, error) {
	ctx, span := tracer.Start(ctx, "session.verify")
	defer span.End()

	rec, ok, err := m.get(ctx, sessionID)
	if err != nil {
		return Verification{}, spanErr(span, err)
	}
	if !ok {
		m.anomaly(ctx, sessionID, AnomalySessionNotFound)
		return Verification{Anomalies: []string{AnomalySessionNotFound}}, nil
	}

	var anomalies []string
	if rec.DeviceID != deviceID {
		anomalies = append(anomalies, AnomalyDeviceMismatch)
		m.anomaly(ctx, sessionID, AnomalyDeviceMismatch)
	}
	if rec.IPAddress != ipAddress {
		anomalies = append(anomalies, AnomalyIPChange)
		m.anomaly(ctx, sessionID, AnomalyIPChange)
	}

	if m.expired(rec) {
		anomalies = append(anomalies, AnomalySessionExpired)
		m.anomaly(ctx, sessionID, AnomalySessionExpired)
		if _, err := m.Invalidate(ctx, sessionID); err != nil {
			return Verification{}, spanErr(span, err)
		}
		return Verification{Anomalies: anomalies}, nil
	}

	if err := m.touch(ctx, *rec); err != nil {
		return Verification{}, spanErr(span, err)
	}
	return Verification{
		Valid:     len(anomalies) == 0,
		Anomalies: anomalies,
		Record:    rec,
	}, nil
}

// IsFresh reports whether the session saw activity within maxAge. Use for
// operations that demand recent presence, not just a live session. A
// non-positive maxAge uses the standard freshness window. Missing sessions
// are simply not fresh.
func (m *Manager) IsFresh(ctx context.Context, sessionID string, maxAge time.Duration) (bool, error) {
	if maxAge <= 0 {
		maxAge = domain.SessionFreshnessWindow
	}
	rec, ok, err := m.get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	last, err := domain.ParseTimestamp(rec.LastActivity)
	if err != nil {
		return false, nil
	}
	return m.clock.Now().Sub(last) <= maxAge, nil
}

// expired reports whether the inactivity window has passed. A record whose
// activity timestamp cannot be read is treated as expired.
func (m *Manager) expired(rec *Record) bool {
	last, err := domain.ParseTimestamp(rec.LastActivity)
	if err != nil {
		return true
	}
	return m.clock.Now().Sub(last) > m.timeout
}

func (m *Manager) anomaly(ctx context.Context, sessionID, anomaly string) {
	sessionAnomaliesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("anomaly", anomaly)))
	m.logger.WarnContext(ctx, "session.anomaly",
		"session_id", sessionID,
		"anomaly", anomaly,
	)
}
