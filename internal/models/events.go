package models

import (
	"encoding/json"
	"time"
)

// Client to server events.
const (
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
	EventSendMessage   = "send_message"
	EventMarkRead      = "mark_read"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventMessageReact  = "message_reaction"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventVoiceMessage  = "voice_message"
	EventUpdateGroup   = "update_group"
	EventHeartbeat     = "heartbeat"
)

// Server to client events.
const (
	EventUserOnline      = "user_online"
	EventNewMessage      = "new_message"
	EventMessageSent     = "message_sent"
	EventMessageRead     = "message_read"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventReactionUpdate  = "message_reaction_update"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventGroupUpdated    = "group_updated"
	EventNewNotification = "new_notification"
	EventChatJoined      = "chat_joined"
	EventHeartbeatAck    = "heartbeat_ack"
	EventError           = "error"
)

// Envelope is the websocket frame: {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope carries an already-typed payload.
type OutboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NewMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

type MessageReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
}

type ReactionUpdatePayload struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Reactions      []Reaction `json:"reactions"`
}

type MessageEditedPayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type GroupUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
	Chat           Chat   `json:"chat"`
}

type NotificationPayload struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

type ChatJoinedPayload struct {
	ConversationID string `json:"conversationId"`
}
