package delivery

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiter hands out one token bucket per target.
type limiter struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	byKey map[string]*rate.Limiter
}

func newLimiter(perSec float64) *limiter {
	if perSec <= 0 {
		return nil
	}
	return &limiter{
		rate:  rate.Limit(perSec),
		burst: max(1, int(perSec)),
		byKey: map[string]*rate.Limiter{},
	}
}

func (l *limiter) wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	lim := l.byKey[key]
	if lim == nil {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.byKey[key] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
