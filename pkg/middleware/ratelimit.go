package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client entry survives before eviction.
const staleAfter = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for each client IP address.
type IPRateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	r       rate.Limit
	b       int
}

// NewIPRateLimiter creates a new rate limiter.
// r is the rate of events (requests per second).
// b is the burst size.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		r:       r,
		b:       b,
	}

	go func() {
		for {
			time.Sleep(time.Minute)
			i.evictStale()
		}
	}()

	return i
}

// GetLimiter returns the rate limiter for the given IP.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.clients[ip]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(i.r, i.b)}
		i.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (i *IPRateLimiter) evictStale() {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for ip, entry := range i.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(i.clients, ip)
		}
	}
}

// RateLimitMiddleware creates a Gin middleware for rate limiting.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(limit, burst)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}
