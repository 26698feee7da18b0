package ws

import "time"

// rateLimiter bounds subscribe-call frequency with a rolling window of call
// timestamps. It is owned by a single connection's read loop, so no locking.
type rateLimiter struct {
	window time.Duration
	limit  int
	calls  []time.Time
}

func newRateLimiter(window time.Duration, limit int) *rateLimiter {
	return &rateLimiter{
		window: window,
		limit:  limit,
	}
}

// Allow reports whether a call at now is permitted. A rejected call is not
// recorded, so hammering the limit does not extend it.
func (l *rateLimiter) Allow(now time.Time) bool {
	kept := l.calls[:0]
	for _, t := range l.calls {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) >= l.limit {
		return false
	}

	l.calls = append(l.calls, now)
	return true
}

func (l *rateLimiter) Reset() {
	l.calls = nil
}
