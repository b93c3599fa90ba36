package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"social-realtime/internal/auth"
	"social-realtime/internal/chat"
	"social-realtime/internal/telemetry"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the public message for err and audits the rejection.
func respondError(c *gin.Context, audit *telemetry.AuditEmitter, err error) {
	status := statusFor(err)
	level := "WARN"
	if status >= http.StatusInternalServerError {
		level = "ERROR"
	}
	audit.Emit(c.Request.Context(), level, c.Request.Method+" "+c.FullPath()+": "+chat.PublicMessage(err), requestIDFromContext(c), userIDFromContext(c))
	c.JSON(status, gin.H{"error": chat.PublicMessage(err)})
}

func badRequest(c *gin.Context, audit *telemetry.AuditEmitter, message string) {
	audit.Emit(c.Request.Context(), "WARN", c.Request.Method+" "+c.FullPath()+": "+message, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
