package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-realtime/internal/chat"
	"social-realtime/internal/telemetry"
)

// GroupHandler manages group-related endpoints.
type GroupHandler struct {
	service *chat.Service
	audit   *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(service *chat.Service, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{service: service, audit: audit}
}

func (h *GroupHandler) Register(r gin.IRouter) {
	r.POST("/groups", h.CreateGroup)
	r.PATCH("/groups/:chat_id", h.UpdateGroup)
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	group, err := h.service.CreateGroup(c.Request.Context(), userIDFromContext(c), req.Name, req.MemberIDs)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, gin.H{"chat": group})
}

// UpdateGroup handles PATCH /groups/:chat_id. Only admins may change a group.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	var req struct {
		Name               *string  `json:"name"`
		Avatar             string   `json:"avatar"`
		AvatarURL          string   `json:"avatar_url"`
		AddParticipants    []string `json:"add_participants"`
		RemoveParticipants []string `json:"remove_participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	group, err := h.service.UpdateGroup(c.Request.Context(), chat.GroupUpdate{
		ChatID:             c.Param("chat_id"),
		UserID:             userIDFromContext(c),
		Name:               req.Name,
		AvatarData:         req.Avatar,
		AvatarURL:          req.AvatarURL,
		AddParticipants:    req.AddParticipants,
		RemoveParticipants: req.RemoveParticipants,
	})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}

	h.emitAudit(c, "INFO", "Group updated")
	c.JSON(http.StatusOK, gin.H{"chat": group})
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
