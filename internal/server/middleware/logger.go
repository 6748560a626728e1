package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/pkg/api"
	"go.uber.org/zap"
)

// Keys handlers set on the gin context to enrich the access log.
const (
	KeyProvider = "route.provider"
	KeyModel    = "route.model"
	KeyCached   = "route.cached"
)

// Logger writes one access log line per request. Routed queries carry the
// chosen provider, model and cache outcome; failures carry the problem kind.
// Health probes are logged at debug.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("request_id", c.GetString(string(store.ContextKeyRequestID))),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if app := c.GetHeader(HeaderAppName); app != "" {
			fields = append(fields, zap.String("app", app))
		}
		if provider := c.GetString(KeyProvider); provider != "" {
			fields = append(fields,
				zap.String("provider", provider),
				zap.String("model", c.GetString(KeyModel)),
				zap.Bool("cached", c.GetBool(KeyCached)),
			)
		}
		if len(c.Errors) > 0 {
			var problem *api.Problem
			if errors.As(c.Errors.Last().Err, &problem) {
				if kind, ok := problem.Extensions["kind"].(string); ok {
					fields = append(fields, zap.String("kind", kind))
				}
			} else {
				fields = append(fields, zap.String("errors", c.Errors.String()))
			}
		}

		const msg = "Request handled"
		switch {
		case status >= 500:
			logger.Error(msg, fields...)
		case status >= 400:
			logger.Warn(msg, fields...)
		case route == "/health":
			logger.Debug(msg, fields...)
		default:
			logger.Info(msg, fields...)
		}
	}
}
