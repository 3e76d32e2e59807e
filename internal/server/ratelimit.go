package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// Keeps the limiter map from growing without bound under id churn.
const limiterMapCeiling = 4096

// chatRateLimiter applies a per-chat token bucket to inbound webhook
// updates, so one misbehaving chat cannot mint tokens in a tight loop.
type chatRateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newChatRateLimiter(limit rate.Limit, burst int) *chatRateLimiter {
	return &chatRateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *chatRateLimiter) allow(chatID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[chatID]
	if !ok {
		if len(l.limiters) >= limiterMapCeiling {
			l.limiters = make(map[int64]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[chatID] = limiter
	}
	return limiter.Allow()
}
