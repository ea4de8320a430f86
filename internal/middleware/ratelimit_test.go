package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/WillB97/kit-web-ui/internal/middleware"
	"github.com/WillB97/kit-web-ui/internal/ratelimit"
)

func setupLimiter(t *testing.T, rate int) (*miniredis.Miniredis, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := ratelimit.NewLimiter(rdb)
	mw := middleware.NewRateLimit(limiter, ratelimit.LimitConfig{Rate: rate, Window: time.Minute})

	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return mr, handler
}

func doRequest(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.0.0.1:55555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	_, handler := setupLimiter(t, 3)

	for i := 0; i < 3; i++ {
		rec := doRequest(handler)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	_, handler := setupLimiter(t, 2)

	doRequest(handler)
	doRequest(handler)
	rec := doRequest(handler)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_FailsOpenWithoutRedis(t *testing.T) {
	mr, handler := setupLimiter(t, 1)
	mr.Close()

	// Both requests pass despite the 1-req limit: redis is down.
	assert.Equal(t, http.StatusOK, doRequest(handler).Code)
	assert.Equal(t, http.StatusOK, doRequest(handler).Code)
}
