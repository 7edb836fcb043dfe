package permissions

import (
	"sync"
	"time"
)

// denyLimiter tracks DENY decisions across the whole process in a sliding
// window. Once the threshold is crossed the engine answers DENY outright for
// the backoff period without consulting rules, regardless of session.
type denyLimiter struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	backoff   time.Duration

	denials []time.Time
	until   time.Time // backoff expiry; zero when not engaged

	now func() time.Time
}

func newDenyLimiter(threshold int, window, backoff time.Duration) *denyLimiter {
	return &denyLimiter{
		threshold: threshold,
		window:    window,
		backoff:   backoff,
		now:       time.Now,
	}
}

// Blocked reports whether the process is inside a denial backoff, and the
// remaining duration when it is.
func (d *denyLimiter) Blocked() (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.until.IsZero() {
		return false, 0
	}
	remaining := d.until.Sub(d.now())
	if remaining <= 0 {
		d.until = time.Time{}
		d.denials = nil
		return false, 0
	}
	return true, remaining
}

// RecordDenial logs one DENY and returns true when the process just crossed
// the threshold and entered backoff.
func (d *denyLimiter) RecordDenial() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.window)
	kept := d.denials[:0]
	for _, t := range d.denials {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	d.denials = kept

	if len(kept) >= d.threshold {
		d.until = now.Add(d.backoff)
		return true
	}
	return false
}

// Reset clears all tracking. Test-only.
func (d *denyLimiter) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denials = nil
	d.until = time.Time{}
}
