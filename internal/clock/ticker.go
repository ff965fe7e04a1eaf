package clock

import "time"

// Ticker delivers ticks on C until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker wraps time.NewTicker
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// FakeTicker fires only when Tick is called
type FakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

// NewFakeTicker creates an unbuffered fake ticker
func NewFakeTicker() *FakeTicker {
	return &FakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *FakeTicker) C() <-chan time.Time { return f.ch }

// Stop is idempotent
func (f *FakeTicker) Stop() {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
}

// Tick delivers one tick and reports false if the ticker was stopped first
func (f *FakeTicker) Tick(t time.Time) bool {
	select {
	case f.ch <- t:
		return true
	case <-f.stopped:
		return false
	}
}
