// Package device tracks the devices each user signs in from and the trust
// each device has earned. Trust accrues with age and use; a device whose
// score reaches the threshold becomes trusted, which feeds both risk
// analysis and policy conditions.
package device

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

var tracer = otel.Tracer("device")

var (
	devicesRegisteredTotal metric.Int64Counter
	devicesTrustedTotal    metric.Int64Counter
)

func init() {
	meter := otel.Meter("device")
	devicesRegisteredTotal, _ = meter.Int64Counter("device_registered_total",
		metric.WithDescription("Devices registered on first sight"))
	devicesTrustedTotal, _ = meter.Int64Counter("device_trusted_total",
		metric.WithDescription("Devices promoted to trusted"))
}

// Record is one device as persisted, keyed by (user, device).
type Record struct {
	UserID      string            `json:"user_id"`
	DeviceID    string            `json:"device_id"`
	Fingerprint string            `json:"fingerprint"`
	DeviceInfo  map[string]string `json:"device_info,omitempty"`
	FirstSeen   string            `json:"first_seen"`
	LastSeen    string            `json:"last_seen"`
	AccessCount int               `json:"access_count"`
	Trusted     bool              `json:"trusted"`
	TrustScore  int               `json:"trust_score"`
	TrustedAt   string            `json:"trusted_at,omitempty"`
	RevokedAt   string            `json:"revoked_at,omitempty"`
}

// Verification is the outcome of checking a presented device.
type Verification struct {
	// Known is false when the device has never been registered (or its
	// record aged out). Everything else is zero in that case.
	Known       bool
	Trusted     bool
	TrustScore  int
	FirstSeen   string
	LastSeen    string
	AccessCount int
}

// Verifier manages device records in the shared store.
type Verifier struct {
	store     kv.Store
	clock     domain.Clock
	recordTTL time.Duration
	logger    *slog.Logger
}

// VerifierConfig holds the dependencies for creating a Verifier.
type VerifierConfig struct {
	Store kv.Store
	Clock domain.Clock
	// RecordTTL is the sliding lifetime of a device record; every sighting
	// re-arms it. Defaults to domain.DeviceRecordTTL.
	RecordTTL time.Duration
	Logger    *slog.Logger
}

// NewVerifier creates a device verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		store:     cfg.Store,
		clock:     cfg.Clock,
		recordTTL: cfg.RecordTTL,
		logger:    cfg.Logger,
	}
	if v.clock == nil {
		v.clock = domain.RealClock{}
	}
	if v.recordTTL <= 0 {
		v.recordTTL = domain.DeviceRecordTTL
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

func deviceKey(userID, deviceID string) string {
	return "device/" + userID + "/" + deviceID
}

// Register records a device on first sight: initial score, untrusted.
// Re-registering resets the record, so callers should register only after
// Verify reports the device unknown. Safe to retry.
func (v *Verifier) Register(ctx context.Context, userID, deviceID string, info map[string]string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "device.Register",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if userID == "" || deviceID == "" {
		return nil, fmt.Errorf("user and device ids are required: %w", domain.ErrInvalidInput)
	}

	now := domain.Timestamp(v.clock)
	rec := &Record{
		UserID:      userID,
		DeviceID:    deviceID,
		Fingerprint: Fingerprint(info),
		DeviceInfo:  info,
		FirstSeen:   now,
		LastSeen:    now,
		AccessCount: 1,
		TrustScore:  domain.InitialTrustScore,
	}

	if err := v.write(ctx, rec); err != nil {
		return nil, spanErr(span, err)
	}

	devicesRegisteredTotal.Add(ctx, 1)
	v.logger.InfoContext(ctx, "device.registered",
		"user_id", userID, "device_id", deviceID, "fingerprint", rec.Fingerprint)
	return rec, nil
}

// Verify checks a presented device and refreshes its record: sighting
// timestamp, access count, and a recomputed trust score. Crossing the
// trust threshold promotes the device and stamps the promotion time.
//
// An unknown device is not an error; the zero Verification says so.
func (v *Verifier) Verify(ctx context.Context, userID, deviceID string) (Verification, error) {
	ctx, span := tracer.Start(ctx, "device.Verify",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rec, found, err := v.get(ctx, userID, deviceID)
	if err != nil {
		return Verification{}, spanErr(span, err)
	}
	if !found {
		span.SetAttributes(attribute.Bool("device.known", false))
		return Verification{}, nil
	}

	now := v.clock.Now()
	rec.LastSeen = domain.FormatTimestamp(now)
	rec.AccessCount++

	// A revoked device keeps its record for replay detection but earns no
	// trust back; only an explicit re-registration starts it over.
	if rec.RevokedAt == "" {
		rec.TrustScore = v.scoreOf(rec, now)
		if rec.TrustScore >= domain.TrustedScoreThreshold && !rec.Trusted {
			rec.Trusted = true
			rec.TrustedAt = domain.FormatTimestamp(now)
			devicesTrustedTotal.Add(ctx, 1)
			v.logger.InfoContext(ctx, "device.promoted_to_trusted",
				"user_id", userID, "device_id", deviceID, "trust_score", rec.TrustScore)
		}
	}

	if err := v.write(ctx, rec); err != nil {
		return Verification{}, spanErr(span, err)
	}

	return Verification{
		Known:       true,
		Trusted:     rec.Trusted,
		TrustScore:  rec.TrustScore,
		FirstSeen:   rec.FirstSeen,
		LastSeen:    rec.LastSeen,
		AccessCount: rec.AccessCount,
	}, nil
}

// scoreOf computes the trust score from the record's age, usage, and
// standing. Clamped to the maximum.
func (v *Verifier) scoreOf(rec *Record, now time.Time) int {
	score := domain.InitialTrustScore

	if firstSeen, err := domain.ParseTimestamp(rec.FirstSeen); err == nil {
		age := now.Sub(firstSeen)
		switch {
		case age >= 30*24*time.Hour:
			score += 20
		case age >= 7*24*time.Hour:
			score += 10
		}
	}

	switch {
	case rec.AccessCount > 100:
		score += 15
	case rec.AccessCount > 50:
		score += 10
	case rec.AccessCount > 10:
		score += 5
	}

	if rec.Trusted {
		score += 15
	}

	return min(score, domain.MaxTrustScore)
}

// RevokeTrust drops a device to zero trust but keeps the record, so a
// stolen device that re-presents is recognized rather than treated as new.
// Safe to retry.
func (v *Verifier) RevokeTrust(ctx context.Context, userID, deviceID string) error {
	ctx, span := tracer.Start(ctx, "device.RevokeTrust",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rec, found, err := v.get(ctx, userID, deviceID)
	if err != nil {
		return spanErr(span, err)
	}
	if !found {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}

	rec.Trusted = false
	rec.TrustScore = 0
	rec.TrustedAt = ""
	rec.RevokedAt = domain.Timestamp(v.clock)

	if err := v.write(ctx, rec); err != nil {
		return spanErr(span, err)
	}

	v.logger.WarnContext(ctx, "device.trust_revoked",
		"user_id", userID, "device_id", deviceID)
	return nil
}

// ListDevices returns every live device record for a user.
func (v *Verifier) ListDevices(ctx context.Context, userID string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "device.ListDevices",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	keys, err := v.store.ScanPrefix(ctx, "device/"+userID+"/")
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("scan devices: %w", err))
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		raw, found, err := v.store.Get(ctx, key)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("read device: %w", err))
		}
		if !found {
			// Expired between scan and read.
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, spanErr(span, fmt.Errorf("decode device record: %w", err))
		}
		records = append(records, rec)
	}
	return records, nil
}

// Remove deletes a device record outright. The device starts from zero if
// it ever comes back. Safe to retry.
func (v *Verifier) Remove(ctx context.Context, userID, deviceID string) error {
	ctx, span := tracer.Start(ctx, "device.Remove",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if err := v.store.Del(ctx, deviceKey(userID, deviceID)); err != nil {
		return spanErr(span, fmt.Errorf("delete device: %w", err))
	}
	return nil
}

func (v *Verifier) get(ctx context.Context, userID, deviceID string) (*Record, bool, error) {
	raw, found, err := v.store.Get(ctx, deviceKey(userID, deviceID))
	if err != nil {
		return nil, false, fmt.Errorf("read device: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("decode device record: %w", err)
	}
	return &rec, true, nil
}

// write persists the record and re-arms its sliding lifetime.
func (v *Verifier) write(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode device record: %w", err)
	}
	if err := v.store.Set(ctx, deviceKey(rec.UserID, rec.DeviceID), string(raw), v.recordTTL); err != nil {
		return fmt.Errorf("write device record: %w", err)
	}
	return nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
