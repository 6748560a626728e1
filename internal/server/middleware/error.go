package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached by a handler. *api.Problem
// values are written as RFC 9457 documents; anything else becomes a 500.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err

		var problem *api.Problem
		if errors.As(err, &problem) {
			// if there is an internal log attached, log it
			if problem.Log != nil {
				logger.Warn("Request failed",
					zap.Int("status", problem.Status),
					zap.String("path", c.Request.URL.Path),
					zap.Error(problem.Log),
				)
			}

			// RFC 9457 dictates the json is at the root
			c.Header("Content-Type", "application/problem+json")
			c.AbortWithStatusJSON(problem.Status, problem)
			return
		}

		logger.Error("Unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))

		c.Header("Content-Type", "application/problem+json")
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.NewError(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
	}
}
