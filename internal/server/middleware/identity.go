package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nulzo/query-router/internal/store"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderAppName   = "X-App-Name"
)

// Identity middleware extracts X-App-Name from headers
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		appName := c.GetHeader(HeaderAppName)
		if appName != "" {
			ctx := context.WithValue(c.Request.Context(), store.ContextKeyAppName, appName)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequestID propagates X-Request-ID, minting a UUID when the caller sent none.
// The id doubles as the query log id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), store.ContextKeyRequestID, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, id)
		c.Set(string(store.ContextKeyRequestID), id)

		c.Next()
	}
}
