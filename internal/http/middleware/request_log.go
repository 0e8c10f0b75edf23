package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/threshold-orchestrator/internal/platform/ctxutil"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// RequestLogger writes one line per request; 5xx at error, 4xx at warn.
// Requests that reached an orchestrator also carry its correlation id.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := append([]interface{}{
			"method", c.Request.Method,
			"route", routeOf(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}, ctxutil.LogFields(c.Request.Context())...)

		if op, id := ctxutil.GetRequestData(c.Request.Context()).Correlation(); id != "" {
			fields = append(fields, "operation", op, "correlation_id", id)
		} else if op := c.Param("operation"); op != "" {
			fields = append(fields, "operation", op)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}

// routeOf prefers the matched route template so ids never leak into labels.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
