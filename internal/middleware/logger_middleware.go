package middleware

import (
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RequestLogger логирует каждый обработанный запрос. В лог пишется шаблон
// маршрута, а не сырой путь, в котором у webhook чата лежат секреты.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		kv := []interface{}{
			"status_code", c.Writer.Status(),
			"method", c.Request.Method,
			"route", route,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Errorw("Request handled", kv...)
		case status >= 400:
			log.Warnw("Request handled", kv...)
		default:
			log.Debugw("Request handled", kv...)
		}
	}
}
