package controlplane

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-principal limiter map.
const maxLimiters = 10000

// buyLimiter rate limits purchases per principal.
type buyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// newBuyLimiter returns nil when perSecond is zero, which disables limiting.
func newBuyLimiter(perSecond float64, burst int) *buyLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &buyLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether principal may buy now.
func (l *buyLimiter) Allow(principal string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters[principal]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[principal] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
