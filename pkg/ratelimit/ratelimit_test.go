package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(6, 0)
	assert.InDelta(t, 0.1, cfg.Rate, 1e-9)
	assert.Equal(t, 1, cfg.Burst)
	assert.Equal(t, 30*time.Minute, cfg.MaxAge)
}

func TestNew_Defaults(t *testing.T) {
	rl := New(Config{Rate: 10, Burst: 20})
	defer rl.Stop()

	assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
	assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
}

func TestAllow_PerKeyBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := New(PerMinute(1, 2))
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("svc-error-alarm"))
	assert.True(t, rl.Allow("svc-error-alarm"))
	assert.False(t, rl.Allow("svc-error-alarm"), "burst exhausted")
	assert.True(t, rl.Allow("other-alarm"), "keys are independent")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("svc-error-alarm"), "token refilled")
	assert.False(t, rl.Allow("svc-error-alarm"))
}

func TestAllow_Concurrent(t *testing.T) {
	rl := New(Config{Rate: 0.001, Burst: 10, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("k") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestCleanupStaleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Minute})
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(30 * time.Second)
	rl.Allow("b")
	require.Equal(t, 2, rl.Len())

	now = now.Add(45 * time.Second)
	rl.cleanupStaleEntries()
	assert.Equal(t, 1, rl.Len())
}

func TestStop_Idempotent(t *testing.T) {
	rl := New(DefaultHTTPConfig())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{Rate: 0.001, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/sns", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/sns", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/sns", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
