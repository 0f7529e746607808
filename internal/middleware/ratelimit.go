package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit applies a per-client token bucket admitting limit requests per
// window. Generation calls are expensive; this keeps one client from
// monopolizing provider quota. RealIP runs earlier in the chain, so
// RemoteAddr already reflects the forwarded client address.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	refill := rate.Every(per / time.Duration(limit))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(key); err == nil {
				key = host
			}

			mu.Lock()
			lim, ok := limiters[key]
			if !ok {
				lim = rate.NewLimiter(refill, limit)
				limiters[key] = lim
			}
			mu.Unlock()

			if !lim.Allow() {
				w.Header().Set("Retry-After", "60")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
