package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/domain/domaintest"
)

func TestRealClock(t *testing.T) {
	t.Run("returns current time", func(t *testing.T) {
		clock := domain.RealClock{}
		before := time.Now()
		got := clock.Now()
		after := time.Now()

		assert.False(t, got.Before(before), "clock.Now() should not be before reference time")
		assert.False(t, got.After(after), "clock.Now() should not be after reference time")
	})
}

func TestFakeClock(t *testing.T) {
	t.Run("returns fixed time", func(t *testing.T) {
		clock := domaintest.NewFakeClockAtEpoch()
		assert.True(t, clock.Now().Equal(domaintest.Epoch))
	})

	t.Run("advance moves time forward", func(t *testing.T) {
		clock := domaintest.NewFakeClockAtEpoch()
		clock.Advance(1 * time.Hour)

		expected := domaintest.Epoch.Add(1 * time.Hour)
		assert.True(t, clock.Now().Equal(expected))
	})

	t.Run("set replaces the time", func(t *testing.T) {
		clock := domaintest.NewFakeClockAtEpoch()
		night := time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)
		clock.Set(night)
		assert.True(t, clock.Now().Equal(night))
	})
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			"utc is preserved",
			time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
			"2026-01-15T12:00:00Z",
		},
		{
			"non-utc is converted",
			time.Date(2026, 1, 15, 7, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			"2026-01-15T12:00:00Z",
		},
		{
			"sub-second precision is dropped",
			time.Date(2026, 1, 15, 12, 0, 0, 999_999_999, time.UTC),
			"2026-01-15T12:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.FormatTimestamp(tt.in))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		orig := time.Date(2026, 1, 15, 12, 30, 45, 0, time.UTC)
		parsed, err := domain.ParseTimestamp(domain.FormatTimestamp(orig))
		require.NoError(t, err)
		assert.True(t, parsed.Equal(orig))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := domain.ParseTimestamp("not-a-timestamp")
		assert.Error(t, err)
	})
}

func TestTimestamp(t *testing.T) {
	clock := domaintest.NewFakeClockAtEpoch()
	assert.Equal(t, "2026-01-15T12:00:00Z", domain.Timestamp(clock))
}
