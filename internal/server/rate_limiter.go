package server

import (
	"sync"
	"time"
)

// rateLimiter admits up to burst messages at once and regains one slot every
// interval/burst. It tracks the time at which the bucket would be full again
// instead of a token count.
type rateLimiter struct {
	mu       sync.Mutex
	spacing  time.Duration
	slack    time.Duration
	fullAt   time.Time
	clockNow func() time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	return newRateLimiterWithClock(burst, interval, time.Now)
}

func newRateLimiterWithClock(burst int, interval time.Duration, now func() time.Time) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	spacing := interval / time.Duration(burst)
	return &rateLimiter{
		spacing:  spacing,
		slack:    interval - spacing,
		fullAt:   now(),
		clockNow: now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clockNow()
	if rl.fullAt.Before(now) {
		rl.fullAt = now
	}
	if rl.fullAt.Sub(now) > rl.slack {
		return false
	}
	rl.fullAt = rl.fullAt.Add(rl.spacing)
	return true
}
