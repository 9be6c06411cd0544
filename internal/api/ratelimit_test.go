package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econsim/internal/api"
)

func TestRateLimiterCountsPerClient(t *testing.T) {
	rl := api.NewRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	assert.True(t, rl.Allow("10.0.0.2"))

	assert.Zero(t, rl.RetryAfter("unknown"))
	after := rl.RetryAfter("10.0.0.1")
	assert.Greater(t, after, 0)
	assert.LessOrEqual(t, after, 61)
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := api.NewRateLimiter(1, 10*time.Millisecond)

	require.True(t, rl.Allow("c"))
	require.False(t, rl.Allow("c"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("c"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := api.NewRateLimiter(2, time.Minute)
	hits := 0
	h := api.RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	call := func(xff string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("").Code)
	assert.Equal(t, http.StatusOK, call("").Code)

	rec := call("")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, hits)

	// A proxied client is keyed on its first X-Forwarded-For hop, not the
	// shared proxy address.
	assert.Equal(t, http.StatusOK, call("203.0.113.9, 10.0.0.1").Code)
}
