package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"social-realtime/internal/chat"
	"social-realtime/internal/models"
	"social-realtime/internal/observability"
)

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

// UnmarshalJSON accepts either "<id>" or {"conversationId": "<id>"}.
func (r *conversationRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ConversationID)
	}
	var obj struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ConversationID = obj.ConversationID
	return nil
}

// outgoingContent accepts either a bare text string or a content object.
type outgoingContent struct {
	Text     *string `json:"text"`
	ImageURL string  `json:"imageUrl"`
	PostID   string  `json:"postId"`
}

func (m *outgoingContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		m.Text = &text
		return nil
	}
	type plain outgoingContent
	return json.Unmarshal(data, (*plain)(m))
}

type sendMessageRequest struct {
	ConversationID string          `json:"conversationId"`
	Message        outgoingContent `json:"message"`
}

type reactionRequest struct {
	ConversationID string  `json:"conversationId"`
	MessageID      string  `json:"messageId"`
	Emoji          *string `json:"emoji"`
}

type editRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Text           string `json:"text"`
}

type deleteRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type voiceRequest struct {
	ConversationID string `json:"conversationId"`
	AudioData      string `json:"audioData"`
}

type updateGroupRequest struct {
	ConversationID string `json:"conversationId"`
	Updates        struct {
		Name               *string  `json:"name"`
		Avatar             string   `json:"avatar"`
		AvatarURL          string   `json:"avatarUrl"`
		AddParticipants    []string `json:"addParticipants"`
		RemoveParticipants []string `json:"removeParticipants"`
	} `json:"updates"`
}

type heartbeatAck struct {
	ServerTime time.Time `json:"serverTime"`
}

// dispatch handles one inbound frame. Frames of a connection are handled in arrival order.
func (g *Gateway) dispatch(ctx context.Context, client *Client, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		g.sendError(client, fmt.Errorf("%w: malformed frame", chat.ErrValidation))
		return
	}
	observability.IncWSEvent(env.Event)

	var err error
	switch env.Event {
	case models.EventJoinChat:
		err = g.onJoin(ctx, client, env.Data)
	case models.EventLeaveChat:
		err = g.onLeave(client, env.Data)
	case models.EventSendMessage:
		err = g.onSend(ctx, client, env.Data)
	case models.EventMarkRead:
		err = g.onMarkRead(ctx, client, env.Data)
	case models.EventTypingStart:
		err = g.onTyping(client, env.Data, models.EventUserTyping)
	case models.EventTypingStop:
		err = g.onTyping(client, env.Data, models.EventUserStopTyping)
	case models.EventMessageReact:
		err = g.onReact(ctx, client, env.Data)
	case models.EventEditMessage:
		err = g.onEdit(ctx, client, env.Data)
	case models.EventDeleteMessage:
		err = g.onDelete(ctx, client, env.Data)
	case models.EventVoiceMessage:
		err = g.onVoice(ctx, client, env.Data)
	case models.EventUpdateGroup:
		err = g.onUpdateGroup(ctx, client, env.Data)
	case models.EventHeartbeat:
		g.presence.Heartbeat(client.UserID())
		g.hub.Send(client, models.EventHeartbeatAck, heartbeatAck{ServerTime: time.Now().UTC()})
	default:
		err = fmt.Errorf("%w: unknown event %q", chat.ErrValidation, env.Event)
	}
	if err != nil {
		g.sendError(client, err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: payload is required", chat.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", chat.ErrValidation)
	}
	return nil
}

func (g *Gateway) onJoin(ctx context.Context, client *Client, data json.RawMessage) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	if err := g.hub.Join(ctx, client, ref.ConversationID); err != nil {
		return err
	}
	g.hub.Send(client, models.EventChatJoined, models.ChatJoinedPayload{ConversationID: ref.ConversationID})
	return nil
}

func (g *Gateway) onLeave(client *Client, data json.RawMessage) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	g.hub.Leave(client, ref.ConversationID)
	return nil
}

func (g *Gateway) onSend(ctx context.Context, client *Client, data json.RawMessage) error {
	var req sendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	in := chat.SendInput{
		ChatID:   req.ConversationID,
		SenderID: client.UserID(),
		Text:     req.Message.Text,
		PostID:   req.Message.PostID,
		Origin:   client.ConnID(),
	}
	if req.Message.ImageURL != "" {
		in.Image = &models.MediaRef{URL: req.Message.ImageURL}
	}
	view, err := g.service.Send(ctx, in)
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventMessageSent, models.NewMessagePayload{ConversationID: req.ConversationID, Message: view})
	return nil
}

func (g *Gateway) onMarkRead(ctx context.Context, client *Client, data json.RawMessage) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	payload, err := g.service.MarkRead(ctx, ref.ConversationID, client.UserID(), client.ConnID())
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventMessageRead, payload)
	return nil
}

// onTyping relays typing state to the rest of the room; the sender must have joined it.
func (g *Gateway) onTyping(client *Client, data json.RawMessage, event string) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	if !g.hub.InRoom(client, ref.ConversationID) {
		return fmt.Errorf("%w: join the chat first", chat.ErrForbidden)
	}
	g.hub.Broadcast(ref.ConversationID, event, models.TypingPayload{
		ConversationID: ref.ConversationID,
		UserID:         client.UserID(),
		Username:       client.Identity().Username,
	}, client.ConnID())
	return nil
}

func (g *Gateway) onReact(ctx context.Context, client *Client, data json.RawMessage) error {
	var req reactionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	payload, err := g.service.React(ctx, chat.ReactInput{
		ChatID:    req.ConversationID,
		MessageID: req.MessageID,
		UserID:    client.UserID(),
		Emoji:     req.Emoji,
		Origin:    client.ConnID(),
	})
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventReactionUpdate, payload)
	return nil
}

func (g *Gateway) onEdit(ctx context.Context, client *Client, data json.RawMessage) error {
	var req editRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	msg, err := g.service.Edit(ctx, chat.EditInput{
		ChatID:    req.ConversationID,
		MessageID: req.MessageID,
		UserID:    client.UserID(),
		Text:      req.Text,
		Origin:    client.ConnID(),
	})
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventMessageEdited, models.MessageEditedPayload{ConversationID: req.ConversationID, Message: msg})
	return nil
}

func (g *Gateway) onDelete(ctx context.Context, client *Client, data json.RawMessage) error {
	var req deleteRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	payload, err := g.service.Delete(ctx, chat.DeleteInput{
		ChatID:    req.ConversationID,
		MessageID: req.MessageID,
		UserID:    client.UserID(),
		Origin:    client.ConnID(),
	})
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventMessageDeleted, payload)
	return nil
}

func (g *Gateway) onVoice(ctx context.Context, client *Client, data json.RawMessage) error {
	var req voiceRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	view, err := g.service.SendVoice(ctx, chat.VoiceInput{
		ChatID:    req.ConversationID,
		SenderID:  client.UserID(),
		AudioData: req.AudioData,
		Origin:    client.ConnID(),
	})
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventMessageSent, models.NewMessagePayload{ConversationID: req.ConversationID, Message: view})
	return nil
}

func (g *Gateway) onUpdateGroup(ctx context.Context, client *Client, data json.RawMessage) error {
	var req updateGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	updated, err := g.service.UpdateGroup(ctx, chat.GroupUpdate{
		ChatID:             req.ConversationID,
		UserID:             client.UserID(),
		Name:               req.Updates.Name,
		AvatarData:         req.Updates.Avatar,
		AvatarURL:          req.Updates.AvatarURL,
		AddParticipants:    req.Updates.AddParticipants,
		RemoveParticipants: req.Updates.RemoveParticipants,
		Origin:             client.ConnID(),
	})
	if err != nil {
		return err
	}
	g.hub.Send(client, models.EventGroupUpdated, models.GroupUpdatedPayload{ConversationID: updated.ID, Chat: updated})
	return nil
}

func (g *Gateway) sendError(client *Client, err error) {
	g.logger.Debug("websocket event rejected", "conn_id", client.ConnID(), "user_id", client.UserID(), "error", err)
	g.hub.Send(client, models.EventError, models.ErrorPayload{Message: chat.PublicMessage(err)})
}
