package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP. Buckets idle for longer
// than idleTTL are dropped lazily on the next sweep.
type limiterSet struct {
	mu        sync.Mutex
	byIP      map[string]*ipLimiter
	r         rate.Limit
	b         int
	lastSweep time.Time
}

const idleTTL = 10 * time.Minute

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) > idleTTL/2 {
		for k, v := range s.byIP {
			if now.Sub(v.lastSeen) > idleTTL {
				delete(s.byIP, k)
			}
		}
		s.lastSweep = now
	}
	il, ok := s.byIP[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.byIP[ip] = il
	}
	il.lastSeen = now
	return il.limiter
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	set := &limiterSet{byIP: make(map[string]*ipLimiter), r: r, b: b, lastSweep: time.Now()}
	return func(c *gin.Context) {
		if !set.get(c.ClientIP(), time.Now()).Allow() {
			abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
