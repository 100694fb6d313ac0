package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	infralog "github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// Logger 请求日志，优先使用结构化 zap 字段
func Logger(logger infralog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if zl := logger.GetZapLogger(); zl != nil {
			fields := []zap.Field{
				zap.String("request_id", GetRequestID(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", c.Request.URL.RawQuery),
				zap.Int("status", status),
				zap.Duration("latency", latency),
			}
			if len(c.Errors) > 0 {
				fields = append(fields, zap.String("errors", c.Errors.String()))
			}
			switch {
			case status >= 500:
				zl.Error("HTTP request", fields...)
			case status >= 400:
				zl.Warn("HTTP request", fields...)
			default:
				zl.Debug("HTTP request", fields...)
			}
			return
		}

		switch {
		case status >= 500:
			logger.Errorf("HTTP request %s %s status=%d latency=%s", c.Request.Method, path, status, latency)
		case status >= 400:
			logger.Warnf("HTTP request %s %s status=%d latency=%s", c.Request.Method, path, status, latency)
		default:
			logger.Debugf("HTTP request %s %s status=%d latency=%s", c.Request.Method, path, status, latency)
		}
	}
}
