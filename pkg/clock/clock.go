// Package clock is the wall clock of the engine: buffering episodes and
// decode times are measured with it, so tests can swap it for a mock.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Clock = clock.Clock
type Mock = clock.Mock

var globalClock Clock = clock.New()

func Get() Clock {
	return globalClock
}

// Set replaces the global clock and returns a function restoring the
// previous one.
func Set(clk Clock) func() {
	prev := globalClock
	globalClock = clk
	return func() {
		globalClock = prev
	}
}

func NewMock() *Mock {
	return clock.NewMock()
}

// Stopwatch measures consecutive laps.
type Stopwatch struct {
	Clock     Clock
	StartedAt time.Time
}

func StartStopwatch(clk Clock) *Stopwatch {
	if clk == nil {
		clk = Get()
	}
	return &Stopwatch{
		Clock:     clk,
		StartedAt: clk.Now(),
	}
}

// Lap returns the time elapsed since the previous lap (or the start) and
// starts a new one.
func (s *Stopwatch) Lap() time.Duration {
	now := s.Clock.Now()
	elapsed := now.Sub(s.StartedAt)
	s.StartedAt = now
	return elapsed
}
