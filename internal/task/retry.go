package task

import "sync/atomic"

// RetryState is a Supervisor's retry bookkeeping (spec §3 "retry:
// {disabled, count}"). A user-initiated Start resets it; a user-initiated
// Stop disables it so the following child exit does not trigger a
// restart.
type RetryState struct {
	disabled atomic.Bool
	count    atomic.Int32
}

// Enabled reports whether retries are currently armed.
func (r *RetryState) Enabled() bool { return !r.disabled.Load() }

// Disable arms retry.disabled (spec §4.3: a user-initiated Stop disables
// retry).
func (r *RetryState) Disable() { r.disabled.Store(true) }

// Reset clears retry.disabled and zeroes the counter (spec §4.3: a
// user-initiated Start resets the retry counter and clears disable).
func (r *RetryState) Reset() {
	r.disabled.Store(false)
	r.count.Store(0)
}

// CheckAndMark implements spec §4.3's `retry_counter.check_and_mark`:
// maxAttempts == -1 always succeeds (unbounded); maxAttempts >= 0
// atomically increments the counter and succeeds only if the counter was
// strictly less than maxAttempts (so maxAttempts == 0 never succeeds).
func (r *RetryState) CheckAndMark(maxAttempts int32) bool {
	if maxAttempts == -1 {
		r.count.Add(1)
		return true
	}
	for {
		cur := r.count.Load()
		if cur >= maxAttempts {
			return false
		}
		if r.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}
