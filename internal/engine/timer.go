package engine

import "time"

// Timer fires at a fixed interval with no backoff. It is polled, not
// scheduled: Due reports whether the interval has elapsed since the last
// time it fired.
type Timer struct {
	interval time.Duration
	last     time.Time
}

// NewTimer creates a timer that is due immediately.
func NewTimer(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// Due reports whether the timer fires at now, and if so restarts it.
func (t *Timer) Due(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Interval returns the firing interval.
func (t *Timer) Interval() time.Duration { return t.interval }

// SetInterval changes the interval. The next firing is measured from the
// last one.
func (t *Timer) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// Reset makes the timer due immediately.
func (t *Timer) Reset() {
	t.last = time.Time{}
}
