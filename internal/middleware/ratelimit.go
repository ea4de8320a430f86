package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/WillB97/kit-web-ui/internal/ratelimit"
)

// RateLimit throttles the export API per client IP. Redis outages fail
// open: losing throttling briefly beats failing every download.
type RateLimit struct {
	limiter *ratelimit.Limiter
	cfg     ratelimit.LimitConfig
}

func NewRateLimit(limiter *ratelimit.Limiter, cfg ratelimit.LimitConfig) *RateLimit {
	return &RateLimit{limiter: limiter, cfg: cfg}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := m.limiter.Check(r.Context(), "ip:"+clientIP(r), m.cfg)
		if err != nil {
			log.Printf("[WARN] RateLimit: redis unavailable, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			rateLimitedTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
