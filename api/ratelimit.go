package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// fit requests per client: a steady two per second with bursts of ten
var (
	fitRate  = rate.Every(500 * time.Millisecond)
	fitBurst = 10
)

// clients idle for longer than limiterIdle are forgotten
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	swept    time.Time
	now      func() time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*clientLimiter),
		limit:    limit,
		burst:    burst,
		idle:     limiterIdle,
		now:      time.Now,
	}
}

func (l *clientLimiters) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= l.idle {
		for key, cl := range l.limiters {
			if now.Sub(cl.seen) >= l.idle {
				delete(l.limiters, key)
			}
		}
		l.swept = now
	}

	cl, ok := l.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[client] = cl
	}
	cl.seen = now
	return cl.limiter
}

func (l *clientLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// rateLimit throttles calibration routes per client address.
func (server *Server) rateLimit(c *gin.Context) {
	if !server.limiters.get(c.ClientIP()).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errors.New("too many calibration requests, retry later")))
		return
	}
	c.Next()
}
