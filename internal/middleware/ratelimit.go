package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// RateLimiter counts requests per caller within a fixed window. Callers are
// identified by owner id when authenticated, otherwise by client IP. State
// is kept in memory, so limits apply per instance.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	counters  map[string]*rateCounter
	nextSweep time.Time
}

type rateCounter struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter allows max requests per window. A non-positive max or
// window disables limiting.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:      max,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*rateCounter),
	}
}

// Handler returns the gin middleware.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.max <= 0 || l.window <= 0 {
			c.Next()
			return
		}

		key := OwnerID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		count, resetIn := l.hit(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, l.max-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > l.max {
			response.Error(c, apperrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) hit(key string) (int, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Expired counters are dropped once per window instead of by a ticker.
	if now.After(l.nextSweep) {
		for k, ct := range l.counters {
			if now.After(ct.windowEnd) {
				delete(l.counters, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	ct, ok := l.counters[key]
	if !ok || now.After(ct.windowEnd) {
		ct = &rateCounter{windowEnd: now.Add(l.window)}
		l.counters[key] = ct
	}
	ct.count++
	return ct.count, ct.windowEnd.Sub(now)
}
