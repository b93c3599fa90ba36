package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"social-realtime/internal/chat"
	"social-realtime/internal/models"
	"social-realtime/internal/repositories"
)

type membershipChecker interface {
	IsParticipant(ctx context.Context, chatID string, userID string) (bool, error)
}

// Hub tracks connected clients and their chat room subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
	rooms   map[string]map[string]*Client
	joined  map[string]map[string]struct{}

	members membershipChecker
	logger  *slog.Logger
}

func NewHub(members membershipChecker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
		members: members,
		logger:  logger,
	}
}

// Register adds a client to the global set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ConnID()] = c
	if _, ok := h.byUser[c.UserID()]; !ok {
		h.byUser[c.UserID()] = make(map[string]*Client)
	}
	h.byUser[c.UserID()][c.ConnID()] = c
}

// Unregister removes the client and all of its room subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ConnID())
	if conns, ok := h.byUser[c.UserID()]; ok {
		delete(conns, c.ConnID())
		if len(conns) == 0 {
			delete(h.byUser, c.UserID())
		}
	}
	for chatID := range h.joined[c.ConnID()] {
		h.leaveLocked(c.ConnID(), chatID)
	}
	delete(h.joined, c.ConnID())
}

// Join subscribes the client to chatID after checking the stored participant list.
func (h *Hub) Join(ctx context.Context, c *Client, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("%w: conversationId is required", chat.ErrValidation)
	}
	member, err := h.members.IsParticipant(ctx, chatID, c.UserID())
	if errors.Is(err, repositories.ErrChatNotFound) {
		return fmt.Errorf("%w: chat not found", chat.ErrNotFound)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "join membership check failed", "chat_id", chatID, "error", err)
		return chat.ErrPersistence
	}
	if !member {
		return fmt.Errorf("%w: not a participant of this chat", chat.ErrForbidden)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ConnID()]; !ok {
		return fmt.Errorf("%w: connection is closed", chat.ErrValidation)
	}
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]*Client)
	}
	h.rooms[chatID][c.ConnID()] = c
	if _, ok := h.joined[c.ConnID()]; !ok {
		h.joined[c.ConnID()] = make(map[string]struct{})
	}
	h.joined[c.ConnID()][chatID] = struct{}{}
	return nil
}

// Leave unsubscribes the client; leaving a room it never joined is fine.
func (h *Hub) Leave(c *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c.ConnID(), chatID)
	if rooms, ok := h.joined[c.ConnID()]; ok {
		delete(rooms, chatID)
	}
}

func (h *Hub) leaveLocked(connID, chatID string) {
	if conns, ok := h.rooms[chatID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// InRoom reports whether the client is subscribed to chatID.
func (h *Hub) InRoom(c *Client, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][c.ConnID()]
	return ok
}

// UserInRoom reports whether any connection of userID is subscribed to chatID.
func (h *Hub) UserInRoom(userID, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.byUser[userID] {
		if _, ok := h.rooms[chatID][connID]; ok {
			return true
		}
	}
	return false
}

// Broadcast delivers an event to every subscriber of chatID except excludeConnID.
func (h *Hub) Broadcast(chatID, event string, payload any, excludeConnID string) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[chatID]))
	for connID, c := range h.rooms[chatID] {
		if connID != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// BroadcastAll delivers an event to every connected client.
func (h *Hub) BroadcastAll(event string, payload any) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// SendToUser delivers an event to every connection of userID.
func (h *Hub) SendToUser(userID, event string, payload any) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// Send delivers an event to a single client.
func (h *Hub) Send(c *Client, event string, payload any) {
	if frame, ok := h.encode(event, payload); ok {
		h.deliver([]*Client{c}, frame)
	}
}

func (h *Hub) deliver(targets []*Client, frame []byte) {
	for _, c := range targets {
		if !c.enqueue(frame) {
			h.logger.Warn("websocket frame dropped", "conn_id", c.ConnID(), "user_id", c.UserID())
		}
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := json.Marshal(models.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode websocket event", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
