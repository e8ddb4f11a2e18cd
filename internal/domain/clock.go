package domain

import "time"

// Clock provides the current time. Implementations may be real (production)
// or deterministic (testing). The domain defines the interface; adapters
// provide implementations.
type Clock interface {
	// Now returns the current time. The returned time includes both wall clock
	// and monotonic readings when using RealClock.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
// It is a zero-allocation implementation (empty struct).
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Timestamp returns the current wall clock as a canonical timestamp string.
// Use this for all persisted timestamps: UTC, RFC 3339, second precision.
func Timestamp(c Clock) string {
	return FormatTimestamp(c.Now())
}

// FormatTimestamp renders t in the canonical persisted form. Sub-second
// precision is dropped so that equal instants always serialize identically.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTimestamp parses a canonical timestamp produced by FormatTimestamp.
// The returned time has no monotonic reading (safe for serialization/comparison).
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Ensure RealClock implements Clock at compile time.
var _ Clock = RealClock{}
