// Package ratelimit bounds request frequency per caller identity using a
// fixed window counter. Rejected requests still count against the window so
// a client hammering the gateway cannot reset its own budget.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit    int
	duration time.Duration

	lastSweep time.Time
	now       func() time.Time
}

func New(limit int, duration time.Duration) *Limiter {
	return &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
	}
}

// Result reports the outcome of a single check, with enough detail to
// populate X-RateLimit-* response headers.
type Result struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	Window    time.Duration
}

// CheckAndRecord records one request from identity and reports whether it is
// allowed. The read-increment-compare runs under the limiter mutex, so two
// concurrent requests from the same identity always observe distinct counts.
func (l *Limiter) CheckAndRecord(identity string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.duration {
		l.windows[identity] = &window{start: now, count: 1}
		return l.result(true, 1)
	}

	w.count++
	if w.count > l.limit {
		return l.result(false, w.count)
	}
	return l.result(true, w.count)
}

func (l *Limiter) result(allowed bool, count int) Result {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining,
		Window:    l.duration,
	}
}

// maybeSweep drops expired windows so the map does not grow without bound.
// Runs at most once per sweep interval; caller holds the mutex.
func (l *Limiter) maybeSweep(now time.Time) {
	const sweepInterval = 5 * time.Minute

	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now

	for identity, w := range l.windows {
		if now.Sub(w.start) >= l.duration {
			delete(l.windows, identity)
		}
	}
}
