package server

import (
	"math"
	"strconv"
	"sync"
	"time"
)

// webhookLimiter caps ingest calls per provider address in fixed windows.
// Windows are aligned to multiples of the window length so every address
// resets at the same instant.
type webhookLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current time.Time
	counts  map[string]int
}

func newWebhookLimiter(limit int, window time.Duration) *webhookLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &webhookLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

// take consumes one call for addr. When the budget is spent it returns
// false and how long until the next window opens. A non-positive limit
// disables limiting.
func (l *webhookLimiter) take(addr string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	now := l.now()
	start := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !start.Equal(l.current) {
		l.current = start
		clear(l.counts)
	}
	if l.counts[addr] >= l.limit {
		return false, start.Add(l.window).Sub(now)
	}
	l.counts[addr]++
	return true, 0
}

// retryAfterSeconds rounds wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds()))))
}
