package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"openchat/backend/internal/auth"
)

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), user))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call("alice").Code)
	assert.Equal(t, http.StatusOK, call("alice").Code)

	limited := call("alice")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// Buckets are per caller.
	assert.Equal(t, http.StatusOK, call("bob").Code)
}

func TestRateLimiter_FallsBackToRemoteAddress(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	rr := httptest.NewRecorder()
	rl.Middleware(http.NotFoundHandler()).ServeHTTP(rr, req)

	rl.mu.Lock()
	_, ok := rl.visitors["10.0.0.7"]
	rl.mu.Unlock()
	assert.True(t, ok)
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")
	now = now.Add(10 * time.Minute)
	rl.Allow("active")

	assert.Equal(t, 1, rl.Sweep(5*time.Minute))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "active")
}
