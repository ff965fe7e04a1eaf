package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_Advance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	f := NewFake(start)
	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestFakeTicker_TickAndStop(t *testing.T) {
	ft := NewFakeTicker()
	got := make(chan time.Time, 1)
	go func() { got <- <-ft.C() }()

	now := time.Now()
	assert.True(t, ft.Tick(now))
	assert.Equal(t, now, <-got)

	ft.Stop()
	ft.Stop()
	assert.False(t, ft.Tick(now))
}
