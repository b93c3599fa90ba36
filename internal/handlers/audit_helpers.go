package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"social-realtime/internal/middleware"
	"social-realtime/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDContextKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user set by the auth middleware.
func userIDFromContext(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
