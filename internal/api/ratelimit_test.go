package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smart-road/internal/config"
)

func TestOriginPolicy(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:*", "https://*.example.com", "https://road.test"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://localhost:", true},
		{"https://app.example.com", true},
		{"https://example.com", false},
		{"https://road.test", true},
		{"https://road.test.evil", false},
		{"http://127.0.0.1:3000", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Allowed(tt.origin))
		})
	}

	assert.True(t, NewOriginPolicy([]string{"*"}).Allowed("https://anything.test"))
}

func TestIPRateLimiterPerIP(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients keep their own budget")

	stats := rl.GetStats()
	assert.Equal(t, uint64(2), stats["allowed"])
	assert.Equal(t, uint64(1), stats["rejected"])
}

func TestIPRateLimiterCleanup(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.getLimiter("10.0.0.9")
	rl.getLimiter("10.0.0.10")
	entry, _ := rl.limiters.Load("10.0.0.9")
	entry.(*ipLimiterEntry).lastSeen.Store(time.Now().Add(-3 * time.Hour).UnixNano())

	rl.cleanup()
	_, stale := rl.limiters.Load("10.0.0.9")
	_, fresh := rl.limiters.Load("10.0.0.10")
	assert.False(t, stale)
	assert.True(t, fresh)
}

func TestRateLimitFromServer(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.RateLimit = 5
	cfg.RateBurst = 7

	rl := RateLimitFromServer(cfg)
	assert.Equal(t, 5.0, rl.RequestsPerSecond)
	assert.Equal(t, 7, rl.Burst)
	assert.Equal(t, DefaultRateLimitConfig.CleanupInterval, rl.CleanupInterval)
}

func TestWebSocketRateLimiter(t *testing.T) {
	wrl := NewWebSocketRateLimiter(2)

	assert.True(t, wrl.Allow("1.2.3.4"))
	assert.True(t, wrl.Allow("1.2.3.4"))
	assert.False(t, wrl.Allow("1.2.3.4"))
	assert.Equal(t, 2, wrl.GetConnectionCount("1.2.3.4"))

	wrl.Release("1.2.3.4")
	assert.True(t, wrl.Allow("1.2.3.4"))

	// Releasing more than was taken never goes negative
	for i := 0; i < 5; i++ {
		wrl.Release("1.2.3.4")
	}
	assert.Equal(t, 0, wrl.GetConnectionCount("1.2.3.4"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "192.168.1.5:5555", "192.168.1.5"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.2 "}, "10.0.0.1:80", "198.51.100.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestTokenAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	open := TokenAuth("")(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	guarded := TokenAuth("abc")(ok)
	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"abc", http.StatusUnauthorized},
		{"Bearer ab", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer abc", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.header)
	}
}
