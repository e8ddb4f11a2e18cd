// Package audit appends security events to the shared store. Events land
// on an append-only day stream retained for the configured number of days
// and on a capped per-user trail, and are mirrored to the process log.
// With field-level encryption enabled the details and peer-address fields
// are sealed before storage.
package audit

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
	"github.com/Harshith2412/zta-finance/internal/encryption"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("audit")

var auditEventsTotal metric.Int64Counter

func init() {
	meter := otel.Meter("audit")
	auditEventsTotal, _ = meter.Int64Counter("audit_events_total",
		metric.WithDescription("Audit events recorded, by type and severity"))
}

// Type classifies what kind of activity an event records.
type Type string

const (
	TypeAuthentication Type = "authentication"
	TypeAuthorization  Type = "authorization"
	TypeDataAccess     Type = "data_access"
	TypeDataModify     Type = "data_modification"
	TypeConfigChange   Type = "configuration_change"
	TypeSecurityEvent  Type = "security_event"
	TypeTransaction    Type = "transaction"
	TypeAdminAction    Type = "admin_action"
)

// Valid reports whether t is one of the defined event types.
func (t Type) Valid() bool {
	switch t {
	case TypeAuthentication, TypeAuthorization, TypeDataAccess, TypeDataModify,
		TypeConfigChange, TypeSecurityEvent, TypeTransaction, TypeAdminAction:
		return true
	}
	return false
}

// Severity grades how alarming an event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// encryptedFields are sealed before storage when a cipher is configured.
var encryptedFields = []string{"details", "ip_address"}

// Event is one audit record as persisted. EventID and Timestamp are
// assigned at log time; the remaining fields come from the caller.
type Event struct {
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Type      Type           `json:"event_type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Success   bool           `json:"success"`

	// SealedDetails holds the stored encrypted form when the details could
	// not be opened, so events outlive key rotation. Empty otherwise.
	SealedDetails string `json:"-"`
}

// UnmarshalJSON accepts both stored shapes for details: the clear object
// and the sealed string written under field-level encryption.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := struct {
		*alias
		Details json.RawMessage `json:"details"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		return nil
	}
	if aux.Details[0] == '"' {
		return json.Unmarshal(aux.Details, &e.SealedDetails)
	}
	return json.Unmarshal(aux.Details, &e.Details)
}

// Logger records audit events. Safe for concurrent use; all state lives
// in the store.
type Logger struct {
	store     kv.Store
	cipher    *encryption.Cipher
	clock     domain.Clock
	logger    *slog.Logger
	retention time.Duration
}

// LoggerConfig carries the dependencies for NewLogger.
type LoggerConfig struct {
	Store kv.Store
	// Cipher seals the details and peer-address fields before storage.
	// Nil stores them in the clear.
	Cipher *encryption.Cipher
	Clock  domain.Clock
	// Retention bounds the event streams. Defaults to the standard audit
	// retention.
	Retention time.Duration
	Logger    *slog.Logger
}

// NewLogger builds a Logger. Missing optional dependencies get production
// defaults.
func NewLogger(cfg LoggerConfig) *Logger {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = domain.AuditRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:     cfg.Store,
		cipher:    cfg.Cipher,
		clock:     clock,
		logger:    logger,
		retention: retention,
	}
}

// LogEvent assigns the event an id and timestamp and appends it. Retries
// append a fresh record each time, which an append-only trail tolerates.
// Returns the event as stored.
func (l *Logger) LogEvent(ctx context.Context, ev Event) (Event, error) {
	ctx, span := tracer.Start(ctx, "audit.log",
		trace.WithAttributes(
			attribute.String("event_type", string(ev.Type)),
			attribute.String("severity", string(ev.Severity)),
		))
	defer span.End()

	if !ev.Type.Valid() {
		return Event{}, spanErr(span, fmt.Errorf("%w: event type %q", domain.ErrInvalidInput, ev.Type))
	}
	if !ev.Severity.Valid() {
		return Event{}, spanErr(span, fmt.Errorf("%w: severity %q", domain.ErrInvalidInput, ev.Severity))
	}
	if ev.Action == "" {
		return Event{}, spanErr(span, fmt.Errorf("%w: action required", domain.ErrInvalidInput))
	}

	ev.EventID = domain.NewEventID()
	ev.Timestamp = domain.Timestamp(l.clock)

	encoded, err := l.encode(ev)
	if err != nil {
		return Event{}, spanErr(span, err)
	}
	if err := l.append(ctx, ev.UserID, encoded); err != nil {
		return Event{}, spanErr(span, err)
	}

	auditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", string(ev.Type)),
		attribute.String("severity", string(ev.Severity)),
	))
	l.mirror(ctx, ev)
	return ev, nil
}

// encode serializes the event, sealing the sensitive fields when a cipher
// is configured.
func (l *Logger) encode(ev Event) (string, error) {
	buf, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	if l.cipher == nil {
		return string(buf), nil
	}
	var rec map[string]any
	if err := json.Unmarshal(buf, &rec); err != nil {
		return "", fmt.Errorf("reshape event: %w", err)
	}
	if err := l.cipher.EncryptFields(rec, encryptedFields...); err != nil {
		return "", err
	}
	sealed, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode sealed event: %w", err)
	}
	return string(sealed), nil
}

// append pushes the encoded event onto the day stream and, when the event
// names a user, onto that user's trail. Both carry the retention TTL; the
// user trail keeps only the most recent entries.
func (l *Logger) append(ctx context.Context, userID, encoded string) error {
	day := dayKey(l.clock.Now())
	if err := l.store.LPush(ctx, day, encoded); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := l.store.Expire(ctx, day, l.retention); err != nil {
		return fmt.Errorf("arm day stream: %w", err)
	}
	if userID == "" {
		return nil
	}
	key := userEventsKey(userID)
	if err := l.store.LPush(ctx, key, encoded); err != nil {
		return fmt.Errorf("append user event: %w", err)
	}
	if err := l.store.LTrim(ctx, key, 0, domain.UserEventsLimit-1); err != nil {
		return fmt.Errorf("cap user trail: %w", err)
	}
	if err := l.store.Expire(ctx, key, l.retention); err != nil {
		return fmt.Errorf("arm user trail: %w", err)
	}
	return nil
}

// mirror writes the event to the process log at a level matching its
// severity. Security events and high severities carry a security marker
// so log pipelines can route them.
func (l *Logger) mirror(ctx context.Context, ev Event) {
	attrs := []any{
		"event_id", ev.EventID,
		"event_type", string(ev.Type),
		"action", ev.Action,
		"success", ev.Success,
	}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.Resource != "" {
		attrs = append(attrs, "resource", ev.Resource)
	}
	if ev.Type == TypeSecurityEvent || ev.Severity == SeverityError || ev.Severity == SeverityCritical {
		attrs = append(attrs, "security", true)
	}
	switch ev.Severity {
	case SeverityWarning:
		l.logger.WarnContext(ctx, "audit.event", attrs...)
	case SeverityError, SeverityCritical:
		l.logger.ErrorContext(ctx, "audit.event", attrs...)
	default:
		l.logger.InfoContext(ctx, "audit.event", attrs...)
	}
}

func dayKey(t time.Time) string          { return "audit/" + t.UTC().Format("20060102") }
func userEventsKey(userID string) string { return "user_events/" + userID }

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
