package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"snapops/pkg/api"

	"golang.org/x/time/rate"
)

// AgencyHeader carries the calling agency on agency-scoped endpoints.
const AgencyHeader = "X-Agency-ID"

// RateLimitConfig bounds the request rate per agency.
type RateLimitConfig struct {
	// Limit is requests per second. 0 disables rate limiting.
	Limit float64
	Burst int
}

// RateLimit throttles agency-scoped endpoints per agency ID. Requests
// without an agency header are rejected.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // agency ID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agencyID := r.Header.Get(AgencyHeader)
			if agencyID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Missing agency header",
					Code:  "401",
				})
				return
			}

			if cfg.Limit > 0 {
				limiter := getOrCreateLimiter(&limiters, agencyID, cfg, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, agencyID string, cfg RateLimitConfig, ttl time.Duration) *rate.Limiter {
	if limiter, ok := limiters.Load(agencyID); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Limit), cfg.Burst)
	limiters.Store(agencyID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
