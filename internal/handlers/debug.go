package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-realtime/internal/telemetry"
)

// RealtimeStats is what /debug/realtime reports about live connections.
type RealtimeStats interface {
	ClientCount() int
	OnlineUsers() []string
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, stats RealtimeStats, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		userID := userIDFromContext(c)
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/realtime", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime stats not configured"})
			return
		}
		online := stats.OnlineUsers()
		c.JSON(http.StatusOK, gin.H{
			"connections":  stats.ClientCount(),
			"online_count": len(online),
			"online":       online,
		})
	})
}
