package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"qwenauth/pkg/logging"
)

// ipRateLimiter hands out one token-bucket limiter per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[ip]
	if !ok {
		// Unbounded growth guard; the map resets rather than tracking
		// last-use per entry.
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[ip] = lim
	}
	return lim
}

// middleware rejects requests over the per-IP budget with 429.
func (rl *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !rl.limiterFor(ip).Allow() {
			logging.Warn("Server", "Rate limit exceeded for %s on %s", ip, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "Too many device code requests. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
