package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ledgercore/pkg/logger"
)

// Logger writes one access log line per request. Server errors log at
// ERROR, client errors at WARN; health probes only at DEBUG.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", path,
			"query", c.Request.URL.RawQuery,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Header().Get(HeaderIdempotentReplayed) != "" {
			kv = append(kv, "replayed", true)
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "error", c.Errors.Last().Error())
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			l.Errorw("http request", kv...)
		case status >= http.StatusBadRequest:
			l.Warnw("http request", kv...)
		case strings.HasPrefix(path, "/health"):
			l.Debugw("http request", kv...)
		default:
			l.Infow("http request", kv...)
		}
	}
}
