// Package countdown tracks remaining time across a sequence of operations
// that share a single phase timeout (spec §5, "Countdown").
package countdown

import "time"

// Countdown carries remaining time across sequential hook-line executions.
// A zero-value timeout (and a nil *Countdown duration) both mean "no
// timeout", per spec §8's boundary behavior ("Hook timeout of exactly
// 0 ms is treated as no timeout").
type Countdown struct {
	start time.Time
	dur   *time.Duration
}

// New creates a Countdown for the given optional duration. A nil duration,
// or one that is exactly zero, disables the timeout.
func New(dur *time.Duration) *Countdown {
	if dur != nil && *dur == 0 {
		dur = nil
	}
	return &Countdown{start: time.Now(), dur: dur}
}

// Left returns the time remaining until the timeout expires, or nil if
// there is no timeout. It never returns a negative duration.
func (c *Countdown) Left() *time.Duration {
	if c.dur == nil {
		return nil
	}
	left := *c.dur - time.Since(c.start)
	if left < 0 {
		left = 0
	}
	return &left
}

// TimestampMS returns the current time in milliseconds since the Unix
// epoch, used for Supervisor.status_since (spec §3).
func TimestampMS() int64 {
	return time.Now().UnixMilli()
}
