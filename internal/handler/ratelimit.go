package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientBuckets holds the per-client token buckets. Reads and writes draw
// from separate budgets: identity appends and mining confirmations mutate
// the ledger and get a much tighter allowance than checkpoint lookups.
type clientBuckets struct {
	reads    *rate.Limiter
	writes   *rate.Limiter
	lastSeen time.Time
}

type rateLimits struct {
	mu       sync.Mutex
	clients  map[string]*clientBuckets
	readRPS  rate.Limit
	writeRPS rate.Limit
}

// RateLimiter returns a Gin middleware enforcing per-client rate limits.
// readRPS bounds GET traffic; writeRPS bounds mutating requests. Idle
// clients are evicted after ten minutes.
func RateLimiter(readRPS, writeRPS int) gin.HandlerFunc {
	rl := &rateLimits{
		clients:  make(map[string]*clientBuckets),
		readRPS:  rate.Limit(readRPS),
		writeRPS: rate.Limit(writeRPS),
	}
	go rl.evictIdle(5 * time.Minute)
	return rl.middleware
}

func (rl *rateLimits) middleware(c *gin.Context) {
	b := rl.bucketsFor(c.ClientIP())

	lim := b.reads
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		lim = b.writes
	}
	if !lim.Allow() {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
		return
	}
	c.Next()
}

func (rl *rateLimits) bucketsFor(ip string) *clientBuckets {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBuckets{
			reads:  rate.NewLimiter(rl.readRPS, int(rl.readRPS)*2),
			writes: rate.NewLimiter(rl.writeRPS, int(rl.writeRPS)*2),
		}
		rl.clients[ip] = b
	}
	b.lastSeen = time.Now()
	return b
}

// evictIdle drops buckets for clients that have been silent for longer
// than two sweep intervals, so the map does not grow unbounded.
func (rl *rateLimits) evictIdle(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, b := range rl.clients {
			if time.Since(b.lastSeen) > 2*every {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}
