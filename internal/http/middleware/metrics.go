package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/threshold-orchestrator/internal/observability"
)

// Metrics records API request counts and latency per route, operation and
// status class.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		m.ObserveAPI(routeOf(c), c.Param("operation"), statusClass(c.Writer.Status()), time.Since(start))
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
