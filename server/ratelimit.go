package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// ownerLimiter applies a token-bucket rate limit per owner so one chatty
// client cannot starve the generation backend for everyone else.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newOwnerLimiter(perSecond float64, burst int) *ownerLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 3
	}
	return &ownerLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ownerLimiter) allow(ownerID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ownerID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ownerID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// forget evicts an owner's bucket once their session is gone, keeping the
// map bounded by the number of owners with a live session.
func (l *ownerLimiter) forget(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, ownerID)
}
