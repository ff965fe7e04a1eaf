// Package clock abstracts time so expiry and window logic can be tested without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time
type Clock interface {
	Now() time.Time
}

// Real is the wall clock
type Real struct{}

// Now returns time.Now()
func (Real) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
