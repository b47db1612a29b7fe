package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/ratelimit"
)

// RateLimit throttles per authenticated user, or per client IP before
// authentication has run. Limiter errors fail open.
func RateLimit(limiter ratelimit.Limiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := ActorFrom(c); ok {
			key = "user:" + actor.UserID.String()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Error(err, "Rate limiter failed", "key", key)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				httputil.NewErrorResponse("rate_limited", "rate limit exceeded"))
			return
		}
		c.Next()
	}
}
