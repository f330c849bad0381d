package ratelimit

import (
	"sync"
	"time"

	drepo "OtcPull/internal/domain/repository"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key: limit tokens refilled evenly over
// window, with a burst of limit. Buckets are timed on the domain clock.
type Limiter struct {
	clock drepo.Clock
	every rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func New(clock drepo.Clock, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		clock: clock,
		every: rate.Every(window / time.Duration(limit)),
		burst: limit,
		m:     make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.m[key] = b
	}
	return b
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).AllowN(l.clock.Now(), 1)
}
