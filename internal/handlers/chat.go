package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"social-realtime/internal/chat"
	"social-realtime/internal/models"
	"social-realtime/internal/telemetry"
)

// ChatHandler exposes conversations and messages over REST. Mutations fan out
// to the conversation room exactly like their websocket counterparts.
type ChatHandler struct {
	service *chat.Service
	audit   *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(service *chat.Service, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{service: service, audit: audit}
}

// Register mounts the chat routes on an authenticated group.
func (h *ChatHandler) Register(r gin.IRouter) {
	r.GET("/chats", h.ListChats)
	r.POST("/chats/start", h.StartChat)
	r.DELETE("/chats/:chat_id", h.DeleteChat)
	r.GET("/chats/:chat_id/messages", h.GetChatMessages)
	r.GET("/chats/:chat_id/messages/search", h.SearchMessages)
	r.POST("/chats/:chat_id/messages", h.PostChatMessage)
	r.PATCH("/chats/:chat_id/messages/:message_id", h.EditMessage)
	r.DELETE("/chats/:chat_id/messages/:message_id", h.DeleteMessage)
	r.PUT("/chats/:chat_id/messages/:message_id/reaction", h.SetReaction)
	r.POST("/chats/:chat_id/read", h.MarkRead)
}

// ListChats returns the chats of the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.service.ListChats(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StartChat creates or returns the direct chat with peer_id.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	conversation, created, err := h.service.StartDirect(c.Request.Context(), userIDFromContext(c), req.PeerID)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chat": conversation, "created": created})
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.service.DeleteChat(c.Request.Context(), c.Param("chat_id"), userIDFromContext(c)); err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetChatMessages returns one page of history, oldest first within the page.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	page, ok := h.queryInt(c, "page")
	if !ok {
		return
	}
	limit, ok := h.queryInt(c, "limit")
	if !ok {
		return
	}

	result, err := h.service.History(c.Request.Context(), c.Param("chat_id"), userIDFromContext(c), page, limit)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) SearchMessages(c *gin.Context) {
	results, err := h.service.Search(c.Request.Context(), c.Param("chat_id"), userIDFromContext(c), c.Query("q"))
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": results})
}

// PostChatMessage stores a text, image or post message and broadcasts it.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	var req struct {
		Text     *string `json:"text"`
		ImageURL string  `json:"image_url"`
		PostID   string  `json:"post_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	in := chat.SendInput{
		ChatID:   c.Param("chat_id"),
		SenderID: userIDFromContext(c),
		Text:     req.Text,
		PostID:   req.PostID,
	}
	if req.ImageURL != "" {
		in.Image = &models.MediaRef{URL: req.ImageURL}
	}
	view, err := h.service.Send(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	msg, err := h.service.Edit(c.Request.Context(), chat.EditInput{
		ChatID:    c.Param("chat_id"),
		MessageID: c.Param("message_id"),
		UserID:    userIDFromContext(c),
		Text:      req.Text,
	})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage tombstones the caller's own message for everyone.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	_, err := h.service.Delete(c.Request.Context(), chat.DeleteInput{
		ChatID:    c.Param("chat_id"),
		MessageID: c.Param("message_id"),
		UserID:    userIDFromContext(c),
	})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetReaction replaces the caller's reaction; {"emoji": null} clears it.
func (h *ChatHandler) SetReaction(c *gin.Context) {
	var req struct {
		Emoji *string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	update, err := h.service.React(c.Request.Context(), chat.ReactInput{
		ChatID:    c.Param("chat_id"),
		MessageID: c.Param("message_id"),
		UserID:    userIDFromContext(c),
		Emoji:     req.Emoji,
	})
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, update)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	receipt, err := h.service.MarkRead(c.Request.Context(), c.Param("chat_id"), userIDFromContext(c), "")
	if err != nil {
		respondError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *ChatHandler) queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, h.audit, "invalid "+key)
		return 0, false
	}
	return n, true
}
