package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

// ErrorHandler renders errors handlers attached with c.Error but did not
// answer themselves.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			log.Debug("Request error",
				"error", e.Error(),
				"request_id", c.GetString(ContextRequestID),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
