package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of events allowed per second
	Rate float64
	// Burst is the maximum number of events allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// PerMinute returns a config allowing perMinute events per key and minute.
// A burst below one is raised to one.
func PerMinute(perMinute float64, burst int) Config {
	if burst < 1 {
		burst = 1
	}
	return Config{
		Rate:            perMinute / 60,
		Burst:           burst,
		CleanupInterval: time.Minute,
		MaxAge:          30 * time.Minute,
	}
}

// DefaultHTTPConfig returns the per-IP limit for the SNS HTTP endpoint:
// 20 req/s per IP, burst of 50
func DefaultHTTPConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// entry holds rate limiter and last access time for a key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedLimiter applies an independent token bucket per key (alarm name,
// client IP) and forgets keys that were not used for MaxAge.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates a new keyed rate limiter with the given configuration
func New(cfg Config) *KeyedLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	rl := &KeyedLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// Allow consumes one token for key and reports whether it was available
func (rl *KeyedLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = now

	return e.limiter.AllowN(now, 1)
}

// Middleware returns a Gin middleware that applies per-IP rate limiting
func (rl *KeyedLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine
func (rl *KeyedLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *KeyedLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *KeyedLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys (for testing/metrics)
func (rl *KeyedLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *KeyedLimiter) Config() Config {
	return rl.config
}
