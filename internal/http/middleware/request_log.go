package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lprior-repo/nuoc-sub001/internal/platform/ctxutil"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
)

// RequestLogger structured-logs every request through log at a level keyed
// off the response status, tagging trace_id/request_id when
// AttachTraceContext ran earlier in the chain.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		td := ctxutil.GetTraceData(c.Request.Context())

		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td != nil {
			if td.TraceID != "" {
				fields = append(fields, "trace_id", td.TraceID)
			}
			if td.RequestID != "" {
				fields = append(fields, "request_id", td.RequestID)
			}
			if td.AwakeableID != "" {
				fields = append(fields, "awakeable_id", td.AwakeableID)
			}
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
