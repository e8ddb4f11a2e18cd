// Package domaintest provides test doubles for the domain package.
package domaintest

import (
	"sync"
	"time"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// Epoch is the fixed instant most tests start from: a mid-day UTC moment
// well outside the unusual-hours window so risk indicators stay quiet
// unless a test moves the clock on purpose.
var Epoch = time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

// FakeClock is a deterministic, advanceable clock for tests.
// Time is a dependency; inject it like any other. Use Advance/Set to
// control time progression instead of creating new clock instances.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// NewFakeClockAtEpoch creates a FakeClock set to Epoch.
func NewFakeClockAtEpoch() *FakeClock {
	return NewFakeClock(Epoch)
}

// Now returns the fake clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the fake clock forward by the given duration.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set changes the fake clock to a specific time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Ensure FakeClock implements domain.Clock at compile time.
var _ domain.Clock = (*FakeClock)(nil)
