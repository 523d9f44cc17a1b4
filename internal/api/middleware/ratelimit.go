package middleware

import (
	"net/http"
	"strconv"

	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/repository/redis"
	"github.com/rs/zerolog/log"
)

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	rateLimiter *redis.RateLimiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(rateLimiter *redis.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter}
}

// limit applies rate limiting for the given key.
func (m *RateLimitMiddleware) limit(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	allowed, remaining, resetTime, err := m.rateLimiter.Allow(r.Context(), key)
	if err != nil {
		// A degraded limiter should not take chat down with it.
		log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		next.ServeHTTP(w, r)
		return
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetTime.Format("2006-01-02T15:04:05Z"))

	if !allowed {
		response.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	next.ServeHTTP(w, r)
}

// LimitBySession applies rate limiting keyed by the authenticated user.
func (m *RateLimitMiddleware) LimitBySession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := GetSession(r.Context())
		if !ok {
			response.Unauthorized(w, "authentication required")
			return
		}
		m.limit(w, r, next, session.UserID.String())
	})
}

// LimitByClient applies rate limiting keyed by the remote address. Used on
// anonymous-capable routes where no stable identity exists.
func (m *RateLimitMiddleware) LimitByClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.limit(w, r, next, r.RemoteAddr)
	})
}
