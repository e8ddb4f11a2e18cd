// Package risk scores requests for continuous verification. Each request is
// checked against a set of indicators (unknown device, implausible travel,
// velocity, threat-listed peers) whose weights sum to a 0..100 score. The
// weight table ships with defaults and can be overridden per indicator by
// the policy document.
//
// Scoring has deliberate side effects: it is the analyzer that maintains the
// known-location set, the last-known-location record, the velocity counter
// and the per-user risk history. All of them live in the shared store so
// every gateway instance sees the same trail.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/kv"
)

var tracer = otel.Tracer("risk")

var (
	assessmentsTotal metric.Int64Counter
	indicatorsTotal  metric.Int64Counter
)

func init() {
	meter := otel.Meter("risk")
	assessmentsTotal, _ = meter.Int64Counter("risk_assessments_total",
		metric.WithDescription("Requests scored by the risk analyzer"))
	indicatorsTotal, _ = meter.Int64Counter("risk_indicators_total",
		metric.WithDescription("Risk indicators fired, by indicator"))
}

// Indicator names. These appear verbatim in risk history entries, audit
// details and the policy document's risk_factors overrides.
const (
	IndicatorUnknownDevice   = "unknown_device"
	IndicatorUnknownLocation = "unknown_location"
	IndicatorUnusualTime     = "unusual_time"
	IndicatorHighTransaction = "high_transaction_amount"
	IndicatorFailedAttempts  = "multiple_failed_attempts"
	IndicatorGeoMismatch     = "geo_mismatch"
	IndicatorTorOrVPN        = "tor_or_vpn"
	IndicatorSuspiciousIP    = "suspicious_ip"
	IndicatorRapidRequests   = "rapid_requests"
	IndicatorDeviceChange    = "device_change"
)

// defaultWeights is the built-in weight table. The policy document's
// risk_factors block overrides individual entries.
var defaultWeights = map[string]int{
	IndicatorUnknownDevice:   30,
	IndicatorUnknownLocation: 20,
	IndicatorUnusualTime:     15,
	IndicatorHighTransaction: 25,
	IndicatorFailedAttempts:  40,
	IndicatorGeoMismatch:     35,
	IndicatorTorOrVPN:        50,
	IndicatorSuspiciousIP:    30,
	IndicatorRapidRequests:   25,
	IndicatorDeviceChange:    20,
}

// DefaultWeights returns a copy of the built-in weight table.
func DefaultWeights() map[string]int {
	return maps.Clone(defaultWeights)
}

// Assessment is the outcome of scoring one request.
type Assessment struct {
	// Score is the capped sum of fired indicator weights, 0..100.
	Score int
	// Indicators lists the fired indicators in evaluation order.
	Indicators []string
}

// Analyzer scores requests against the shared store. Safe for concurrent use.
type Analyzer struct {
	store           kv.Store
	intel           IPIntel
	clock           domain.Clock
	logger          *slog.Logger
	weights         map[string]int
	requireDeviceID bool
}

// AnalyzerConfig carries the dependencies for NewAnalyzer.
type AnalyzerConfig struct {
	Store kv.Store

	// Intel classifies peer addresses. Nil means no feed: the tor_or_vpn
	// and suspicious_ip indicators never fire.
	Intel IPIntel

	// Clock defaults to the system clock.
	Clock domain.Clock

	// Weights overrides default indicator weights per key, usually from the
	// policy document's risk_factors block.
	Weights map[string]int

	// RequireDeviceID makes a request without a device identifier count as
	// a device change.
	RequireDeviceID bool

	Logger *slog.Logger
}

// NewAnalyzer builds an Analyzer. Missing optional dependencies get
// production defaults.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	weights := maps.Clone(defaultWeights)
	maps.Copy(weights, cfg.Weights)
	intel := cfg.Intel
	if intel == nil {
		intel = noIntel{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		store:           cfg.Store,
		intel:           intel,
		clock:           clock,
		logger:          logger,
		weights:         weights,
		requireDeviceID: cfg.RequireDeviceID,
	}
}

// ScoreRequest evaluates every indicator against the given context and
// returns the capped score with the fired indicators in evaluation order.
// It also records the sighting: known locations, last location, velocity
// counter and risk history are updated as part of scoring. A store failure
// aborts with an error; callers must not treat a failed assessment as low
// risk.
func (a *Analyzer) ScoreRequest(ctx context.Context, ac domain.AccessContext) (Assessment, error) {
	ctx, span := tracer.Start(ctx, "risk.score_request",
		trace.WithAttributes(attribute.String("user_id", ac.UserID)))
	defer span.End()

	var asm Assessment
	add := func(indicator string) {
		asm.Score += a.weights[indicator]
		asm.Indicators = append(asm.Indicators, indicator)
		indicatorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("indicator", indicator)))
	}

	if !ac.DeviceTrusted {
		add(IndicatorUnknownDevice)
	}

	unknownLoc, err := a.unknownLocation(ctx, ac)
	if err != nil {
		return Assessment{}, spanErr(span, err)
	}
	if unknownLoc {
		add(IndicatorUnknownLocation)
	}

	if a.unusualTime() {
		add(IndicatorUnusualTime)
	}

	if amount, ok := ac.TransactionAmount(); ok && amount > domain.HighTransactionLimit {
		add(IndicatorHighTransaction)
	}

	failed, err := a.recentFailedAttempts(ctx, ac)
	if err != nil {
		return Assessment{}, spanErr(span, err)
	}
	if failed {
		add(IndicatorFailedAttempts)
	}

	mismatch, err := a.geoMismatch(ctx, ac)
	if err != nil {
		return Assessment{}, spanErr(span, err)
	}
	if mismatch {
		add(IndicatorGeoMismatch)
	}

	addr, addrOK := parseAddr(ac.IPAddress)
	if addrOK && a.intel.IsAnonymizer(addr) {
		add(IndicatorTorOrVPN)
	}

	if ac.UserID != "" {
		rapid, err := a.rapidRequests(ctx, ac.UserID)
		if err != nil {
			return Assessment{}, spanErr(span, err)
		}
		if rapid {
			add(IndicatorRapidRequests)
		}
	}

	changed, err := a.deviceChange(ctx, ac)
	if err != nil {
		return Assessment{}, spanErr(span, err)
	}
	if changed {
		add(IndicatorDeviceChange)
	}

	if addrOK && a.intel.IsSuspicious(addr) {
		add(IndicatorSuspiciousIP)
	}

	asm.Score = min(asm.Score, 100)

	if ac.UserID != "" {
		if err := a.appendHistory(ctx, ac.UserID, asm); err != nil {
			return Assessment{}, spanErr(span, err)
		}
	}

	assessmentsTotal.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int("risk.score", asm.Score),
		attribute.StringSlice("risk.indicators", asm.Indicators),
	)
	a.logger.InfoContext(ctx, "risk.assessed",
		"user_id", ac.UserID,
		"score", asm.Score,
		"indicators", asm.Indicators,
	)
	return asm, nil
}

// unknownLocation reports whether the request's location is new for this
// user, and records the sighting. Adding a known member is a no-op, so the
// recording side is safe under retry; the set TTL is re-armed on every
// located request.
func (a *Analyzer) unknownLocation(ctx context.Context, ac domain.AccessContext) (bool, error) {
	if ac.UserID == "" || ac.Location.IsZero() {
		return false, nil
	}
	key := locationsKey(ac.UserID)
	members, err := a.store.SMembers(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read known locations: %w", err)
	}
	loc := ac.Location.String()
	known := slices.Contains(members, loc)
	if err := a.store.SAdd(ctx, key, loc); err != nil {
		return false, fmt.Errorf("record location: %w", err)
	}
	if err := a.store.Expire(ctx, key, domain.KnownLocationsTTL); err != nil {
		return false, fmt.Errorf("refresh known locations: %w", err)
	}
	return !known, nil
}

func (a *Analyzer) unusualTime() bool {
	now := a.clock.Now().UTC()
	secs := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return secs >= domain.UnusualHoursStart && secs <= domain.UnusualHoursEnd
}

// recentFailedAttempts consults the lockout counter. Counters are keyed by
// username; requests that carry only a user ID fall back to that.
func (a *Analyzer) recentFailedAttempts(ctx context.Context, ac domain.AccessContext) (bool, error) {
	principal := ac.Username
	if principal == "" {
		principal = ac.UserID
	}
	if principal == "" {
		return false, nil
	}
	raw, ok, err := a.store.Get(ctx, failedAttemptsKey(principal))
	if err != nil {
		return false, fmt.Errorf("read failed attempts: %w", err)
	}
	if !ok {
		return false, nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return count >= domain.FailedAttemptsRisk, nil
}

// lastLocation is the persisted most-recent-location record.
type lastLocation struct {
	Location  string `json:"location"`
	Timestamp string `json:"timestamp"`
}

// geoMismatch fires when the user's country changes faster than plausible
// travel allows. The last-location record follows the user: it is written on
// first sight and rewritten whenever the country changes, so two mismatched
// requests in a row both compare against the location that preceded them.
func (a *Analyzer) geoMismatch(ctx context.Context, ac domain.AccessContext) (bool, error) {
	if ac.UserID == "" || ac.Location.IsZero() {
		return false, nil
	}
	key := lastLocationKey(ac.UserID)
	raw, ok, err := a.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read last location: %w", err)
	}
	if !ok {
		return false, a.writeLastLocation(ctx, key, ac.Location)
	}

	var rec lastLocation
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A record we cannot read is replaced, not trusted.
		return false, a.writeLastLocation(ctx, key, ac.Location)
	}
	prev, err := domain.ParseLocation(rec.Location)
	if err != nil {
		return false, a.writeLastLocation(ctx, key, ac.Location)
	}
	if prev.SameCountry(ac.Location) {
		return false, nil
	}

	mismatch := false
	if seen, err := domain.ParseTimestamp(rec.Timestamp); err == nil {
		mismatch = a.clock.Now().Sub(seen) < domain.GeoMismatchWindow
	}
	return mismatch, a.writeLastLocation(ctx, key, ac.Location)
}

func (a *Analyzer) writeLastLocation(ctx context.Context, key string, loc domain.Location) error {
	rec := lastLocation{Location: loc.String(), Timestamp: domain.Timestamp(a.clock)}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode last location: %w", err)
	}
	if err := a.store.Set(ctx, key, string(buf), domain.LastLocationTTL); err != nil {
		return fmt.Errorf("write last location: %w", err)
	}
	return nil
}

func (a *Analyzer) rapidRequests(ctx context.Context, userID string) (bool, error) {
	count, err := a.store.IncrWithWindow(ctx, velocityKey(userID), domain.VelocityWindow)
	if err != nil {
		return false, fmt.Errorf("count request velocity: %w", err)
	}
	return count > domain.VelocityThreshold, nil
}

// deviceChange fires when the presented device is absent from the user's
// device set, or when no device identifier was presented and the deployment
// requires one.
func (a *Analyzer) deviceChange(ctx context.Context, ac domain.AccessContext) (bool, error) {
	if ac.UserID == "" {
		return false, nil
	}
	if ac.DeviceID == "" {
		return a.requireDeviceID, nil
	}
	known, err := a.store.Exists(ctx, deviceRecordKey(ac.UserID, ac.DeviceID))
	if err != nil {
		return false, fmt.Errorf("check device record: %w", err)
	}
	return !known, nil
}

// noIntel matches nothing. Used when no threat feed is configured.
type noIntel struct{}

func (noIntel) IsAnonymizer(netip.Addr) bool { return false }
func (noIntel) IsSuspicious(netip.Addr) bool { return false }

func parseAddr(raw string) (netip.Addr, bool) {
	if raw == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

func locationsKey(userID string) string    { return "user_locations/" + userID }
func lastLocationKey(userID string) string { return "last_location/" + userID }
func velocityKey(userID string) string     { return "request_velocity/" + userID }
func historyKey(userID string) string      { return "risk_history/" + userID }

func failedAttemptsKey(principal string) string { return "failed_attempts/" + principal }

func deviceRecordKey(userID, deviceID string) string {
	return "device/" + userID + "/" + deviceID
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
