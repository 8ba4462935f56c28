package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mrpulse.app/dashboard/common/logger"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		if username := c.Param("username"); username != "" {
			c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{
				Author: logger.Ptr(username),
			}))
		}

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		case strings.HasSuffix(c.FullPath(), "/stream"):
			slog.DebugContext(ctx, "stream closed", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
