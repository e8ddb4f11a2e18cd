// Package session tracks authenticated sessions in the shared store. A
// session is a 256-bit opaque identifier bound to the user, device and peer
// address it was created with; every sighting re-arms a sliding inactivity
// TTL. Continuous verification compares each request against the binding
// and reports anomalies instead of silently accepting drift.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("session")

var (
	sessionsCreatedTotal     metric.Int64Counter
	sessionsInvalidatedTotal metric.Int64Counter
	sessionAnomaliesTotal    metric.Int64Counter
)

func init() {
	meter := otel.Meter("session")
	sessionsCreatedTotal, _ = meter.Int64Counter("sessions_created_total",
		metric.WithDescription("Sessions created"))
	sessionsInvalidatedTotal, _ = meter.Int64Counter("sessions_invalidated_total",
		metric.WithDescription("Sessions invalidated"))
	sessionAnomaliesTotal, _ = meter.Int64Counter("session_anomalies_total",
		metric.WithDescription("Session verification anomalies, by anomaly"))
}

// Record is one session as persisted, keyed by its identifier.
type Record struct {
	SessionID     string            `json:"session_id"`
	UserID        string            `json:"user_id"`
	DeviceID      string            `json:"device_id"`
	IPAddress     string            `json:"ip_address"`
	CreatedAt     string            `json:"created_at"`
	LastActivity  string            `json:"last_activity"`
	ActivityCount int               `json:"activity_count"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Manager creates, verifies and invalidates sessions. Safe for concurrent
// use; all state lives in the store.
type Manager struct {
	store   kv.Store
	clock   domain.Clock
	logger  *slog.Logger
	timeout time.Duration
}

// ManagerConfig carries the dependencies for NewManager.
type ManagerConfig struct {
	Store kv.Store
	Clock domain.Clock
	// Timeout is the sliding inactivity window. Defaults to the standard
	// session timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewManager builds a Manager. Missing optional dependencies get
// production defaults.
func NewManager(cfg ManagerConfig) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.SessionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   cfg.Store,
		clock:   clock,
		logger:  logger,
		timeout: timeout,
	}
}

// Create opens a session for the user bound to the presenting device and
// peer address. Metadata is stored opaquely.
func (m *Manager) Create(ctx context.Context, userID, deviceID, ipAddress string, metadata map[string]string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "session.create",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := domain.ValidateID(userID); err != nil {
		return nil, spanErr(span, fmt.Errorf("user id: %w", err))
	}
	id, err := domain.NewOpaqueToken()
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("mint session id: %w", err))
	}

	now := domain.Timestamp(m.clock)
	rec := &Record{
		SessionID:    id,
		UserID:       userID,
		DeviceID:     deviceID,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}
	if err := m.write(ctx, *rec); err != nil {
		return nil, spanErr(span, err)
	}
	if err := m.store.SAdd(ctx, userSessionsKey(userID), id); err != nil {
		return nil, spanErr(span, fmt.Errorf("track session: %w", err))
	}
	if err := m.store.Expire(ctx, userSessionsKey(userID), m.timeout); err != nil {
		return nil, spanErr(span, fmt.Errorf("arm session set: %w", err))
	}

	sessionsCreatedTotal.Add(ctx, 1)
	m.logger.InfoContext(ctx, "session.created",
		"user_id", userID,
		"session_id", id,
		"device_id", deviceID,
	)
	return rec, nil
}

// Get returns the session record, or ErrSessionNotFound once it has been
// invalidated or has aged out.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec, ok, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec, nil
}

// UpdateActivity marks the session as just used: it refreshes the activity
// timestamp, increments the activity counter and re-arms the sliding TTL.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID string) error {
	rec, ok, err := m.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return m.touch(ctx, *rec)
}

// UserSessions returns every live session for the user. Sessions that aged
// out between the set read and the record read are skipped.
func (m *Manager) UserSessions(ctx context.Context, userID string) ([]*Record, error) {
	ctx, span := tracer.Start(ctx, "session.list",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := domain.ValidateID(userID); err != nil {
		return nil, spanErr(span, err)
	}
	ids, err := m.store.SMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("read session set: %w", err))
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := m.get(ctx, id)
		if err != nil {
			return nil, spanErr(span, err)
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// touch bumps activity on a copy of the record and writes it back,
// re-arming both the record TTL and the membership set TTL.
func (m *Manager) touch(ctx context.Context, rec Record) error {
	rec.LastActivity = domain.Timestamp(m.clock)
	rec.ActivityCount++
	if err := m.write(ctx, rec); err != nil {
		return err
	}
	if err := m.store.Expire(ctx, userSessionsKey(rec.UserID), m.timeout); err != nil {
		return fmt.Errorf("re-arm session set: %w", err)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, sessionID string) (*Record, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}
	raw, ok, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &rec, true, nil
}

func (m *Manager) write(ctx context.Context, rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKey(rec.SessionID), string(buf), m.timeout); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func sessionKey(id string) string          { return "session/" + id }
func userSessionsKey(userID string) string { return "user_sessions/" + userID }

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
