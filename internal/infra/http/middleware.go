package http

import (
	"net/http"
	"strconv"
	"time"

	"tufserv/internal/domain"

	"github.com/gin-gonic/gin"
)

// rateLimitMiddleware throttles per client IP. A limiter failure
// fails open; shedding correct traffic is worse than briefly not
// shedding abuse.
func rateLimitMiddleware(limiter domain.RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}
		decision, err := limiter.Allow(c.Request.Context(), c.ClientIP(), limit, window)
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
