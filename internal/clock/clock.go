// Package clock provides the engine's time abstraction: wall-clock time
// for timer fireAt/temporal window arithmetic, and a monotonic logical
// sequence counter for deterministic dispatch ordering independent of
// wall-clock races. Both are injectable so temporal-matcher and
// timer-wheel tests can run scenarios without sleeping.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the wall-clock surface the engine depends on. A real Clock
// wraps the time package directly; a FakeClock in tests advances on
// command so window-expiry and recurring-timer logic can be exercised
// deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer mirrors the subset of time.Timer the engine needs, so fakes can
// substitute their own cancellable handle.
type Timer interface {
	Stop() bool
}

// Real is the production Clock backed by the time package.
type Real struct{}

func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sequence is a monotonic logical counter, independent of wall-clock
// time so its ordering holds even if the wall clock is adjusted or has
// poor resolution. Safe for concurrent use. The engine does not stamp
// its notifications with it.
type Sequence struct {
	n atomic.Int64
}

func NewSequence() *Sequence { return &Sequence{} }

// Next returns the next sequence number; the first call returns 1.
func (s *Sequence) Next() int64 { return s.n.Add(1) }

// Current returns the current value without incrementing.
func (s *Sequence) Current() int64 { return s.n.Load() }
