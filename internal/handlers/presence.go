package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type onlineLister interface {
	OnlineUsers() []string
}

// PresenceHandler reports who currently holds a live connection.
type PresenceHandler struct {
	presence onlineLister
}

func NewPresenceHandler(presence onlineLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) Register(r gin.IRouter) {
	r.GET("/presence/online", h.Online)
}

func (h *PresenceHandler) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.presence.OnlineUsers()})
}
