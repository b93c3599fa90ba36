package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"social-realtime/internal/models"
	"social-realtime/internal/observability"
	"social-realtime/internal/repositories"
	"social-realtime/internal/storage"
)

const (
	maxTextLength  = 4000
	maxEmojiLength = 16

	notificationRoutingKey = "notifications.message"
)

// Rooms delivers events to realtime connections.
type Rooms interface {
	Broadcast(chatID, event string, payload any, excludeConnID string)
	SendToUser(userID, event string, payload any)
	UserInRoom(userID, chatID string) bool
}

// Presence answers whether a user has a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Options wires a Service. Rooms, Presence and Media may be nil.
type Options struct {
	Chats    repositories.ChatRepository
	Users    repositories.UserRepository
	Media    storage.MediaStore
	Rooms    Rooms
	Presence Presence
	Logger   *slog.Logger
}

// Service applies message and conversation mutations and fans the results out.
// Both the websocket gateway and the REST handlers go through it.
type Service struct {
	chats    repositories.ChatRepository
	users    repositories.UserRepository
	media    storage.MediaStore
	rooms    Rooms
	presence Presence
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

func NewService(opts Options) *Service {
	s := &Service{
		chats:    opts.Chats,
		users:    opts.Users,
		media:    opts.Media,
		rooms:    opts.Rooms,
		presence: opts.Presence,
		logger:   opts.Logger,
		tracer:   observability.Tracer("social-realtime/chat"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	if s.rooms == nil {
		s.rooms = noopRooms{}
	}
	if s.presence == nil {
		s.presence = noopPresence{}
	}
	if s.media == nil {
		s.media = storage.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SendInput is one outgoing message. Exactly one content field must be set.
type SendInput struct {
	ChatID   string
	SenderID string
	Text     *string
	Image    *models.MediaRef
	Audio    *models.MediaRef
	PostID   string
	// Origin is the connection that issued the send; it is excluded from the room broadcast.
	Origin string
}

func (s *Service) Send(ctx context.Context, in SendInput) (view models.MessageView, err error) {
	ctx, span := s.start(ctx, "chat.send", in.ChatID)
	defer func() { s.finish(span, "send", err) }()

	msg, err := buildContent(in)
	if err != nil {
		return models.MessageView{}, err
	}
	chat, err := s.participantChat(ctx, in.ChatID, in.SenderID)
	if err != nil {
		return models.MessageView{}, err
	}

	now := s.now()
	msg.ID = s.newID()
	msg.Sender = in.SenderID
	msg.CreatedAt = now
	msg.EditHistory = []models.EditEntry{}
	msg.ReadBy = []models.ReadReceipt{{User: in.SenderID, ReadAt: now}}
	msg.Reactions = []models.Reaction{}

	if err := s.chats.AppendMessage(ctx, in.ChatID, msg); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			return models.MessageView{}, s.explainMiss(ctx, "send", in.ChatID, "", in.SenderID)
		}
		return models.MessageView{}, s.persistence(ctx, "send", err)
	}

	view = models.MessageView{Message: msg, SenderInfo: s.senderInfo(ctx, in.SenderID)}
	s.rooms.Broadcast(in.ChatID, models.EventNewMessage, models.NewMessagePayload{ConversationID: in.ChatID, Message: view}, in.Origin)
	s.notifyParticipants(ctx, chat, view)
	return view, nil
}

func buildContent(in SendInput) (models.Message, error) {
	var msg models.Message
	kinds := 0
	if in.Text != nil && strings.TrimSpace(*in.Text) != "" {
		if utf8.RuneCountInString(*in.Text) > maxTextLength {
			return msg, fmt.Errorf("%w: text exceeds %d characters", ErrValidation, maxTextLength)
		}
		text := *in.Text
		msg.MessageType = models.MessageTypeText
		msg.Text = &text
		kinds++
	}
	if in.Image != nil && in.Image.URL != "" {
		image := *in.Image
		msg.MessageType = models.MessageTypeImage
		msg.Image = &image
		kinds++
	}
	if in.Audio != nil && in.Audio.URL != "" {
		audio := *in.Audio
		msg.MessageType = models.MessageTypeAudio
		msg.Audio = &audio
		kinds++
	}
	if strings.TrimSpace(in.PostID) != "" {
		msg.MessageType = models.MessageTypePost
		msg.PostID = strings.TrimSpace(in.PostID)
		kinds++
	}
	if kinds != 1 {
		return models.Message{}, fmt.Errorf("%w: message needs exactly one content field", ErrValidation)
	}
	return msg, nil
}

// VoiceInput carries base64 audio, optionally as a data URL.
type VoiceInput struct {
	ChatID    string
	SenderID  string
	AudioData string
	Origin    string
}

// SendVoice uploads the recording to the media store and sends it as an audio message.
func (s *Service) SendVoice(ctx context.Context, in VoiceInput) (models.MessageView, error) {
	if _, err := s.participantChat(ctx, in.ChatID, in.SenderID); err != nil {
		return models.MessageView{}, err
	}
	data, contentType, err := decodeMedia(in.AudioData, "audio/webm")
	if err != nil {
		return models.MessageView{}, err
	}
	key := fmt.Sprintf("chats/%s/audio/%s.%s", in.ChatID, uuid.NewString(), extensionFor(contentType, audioExtensions, "webm"))
	ref, err := s.media.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return models.MessageView{}, s.persistence(ctx, "voice_upload", err)
	}

	view, err := s.Send(ctx, SendInput{ChatID: in.ChatID, SenderID: in.SenderID, Audio: &ref, Origin: in.Origin})
	if err != nil {
		s.removeMedia(ctx, ref.Key)
		return models.MessageView{}, err
	}
	return view, nil
}

// MarkRead records a receipt from readerID on every message lacking one.
func (s *Service) MarkRead(ctx context.Context, chatID, readerID, origin string) (payload models.MessageReadPayload, err error) {
	ctx, span := s.start(ctx, "chat.mark_read", chatID)
	defer func() { s.finish(span, "mark_read", err) }()

	if _, err := s.participantChat(ctx, chatID, readerID); err != nil {
		return models.MessageReadPayload{}, err
	}
	readAt := s.now()
	if err := s.chats.MarkRead(ctx, chatID, readerID, readAt); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			return models.MessageReadPayload{}, s.explainMiss(ctx, "mark_read", chatID, "", readerID)
		}
		return models.MessageReadPayload{}, s.persistence(ctx, "mark_read", err)
	}

	payload = models.MessageReadPayload{ConversationID: chatID, UserID: readerID, ReadAt: readAt}
	s.rooms.Broadcast(chatID, models.EventMessageRead, payload, origin)
	return payload, nil
}

// ReactInput sets or clears (Emoji == nil) the user's reaction on a message.
type ReactInput struct {
	ChatID    string
	MessageID string
	UserID    string
	Emoji     *string
	Origin    string
}

func (s *Service) React(ctx context.Context, in ReactInput) (payload models.ReactionUpdatePayload, err error) {
	ctx, span := s.start(ctx, "chat.react", in.ChatID)
	defer func() { s.finish(span, "react", err) }()

	if in.MessageID == "" {
		return payload, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	var emoji *string
	if in.Emoji != nil {
		trimmed := strings.TrimSpace(*in.Emoji)
		if trimmed == "" || utf8.RuneCountInString(trimmed) > maxEmojiLength {
			return payload, fmt.Errorf("%w: emoji is invalid", ErrValidation)
		}
		emoji = &trimmed
	}

	msg, err := s.chats.SetReaction(ctx, in.ChatID, in.MessageID, in.UserID, emoji, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) || errors.Is(err, repositories.ErrChatNotFound) {
			return payload, s.explainMiss(ctx, "react", in.ChatID, in.MessageID, in.UserID)
		}
		return payload, s.persistence(ctx, "react", err)
	}

	payload = models.ReactionUpdatePayload{ConversationID: in.ChatID, MessageID: msg.ID, Reactions: msg.Reactions}
	s.rooms.Broadcast(in.ChatID, models.EventReactionUpdate, payload, in.Origin)
	return payload, nil
}

type EditInput struct {
	ChatID    string
	MessageID string
	UserID    string
	Text      string
	Origin    string
}

// Edit replaces the text of the user's own message, archiving the previous text.
func (s *Service) Edit(ctx context.Context, in EditInput) (msg models.Message, err error) {
	ctx, span := s.start(ctx, "chat.edit", in.ChatID)
	defer func() { s.finish(span, "edit", err) }()

	if in.MessageID == "" {
		return msg, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	if strings.TrimSpace(in.Text) == "" {
		return msg, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if utf8.RuneCountInString(in.Text) > maxTextLength {
		return msg, fmt.Errorf("%w: text exceeds %d characters", ErrValidation, maxTextLength)
	}

	msg, err = s.chats.EditMessage(ctx, in.ChatID, in.MessageID, in.UserID, in.Text, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) || errors.Is(err, repositories.ErrChatNotFound) {
			return models.Message{}, s.explainMiss(ctx, "edit", in.ChatID, in.MessageID, in.UserID)
		}
		return models.Message{}, s.persistence(ctx, "edit", err)
	}

	s.rooms.Broadcast(in.ChatID, models.EventMessageEdited, models.MessageEditedPayload{ConversationID: in.ChatID, Message: msg}, in.Origin)
	return msg, nil
}

type DeleteInput struct {
	ChatID    string
	MessageID string
	UserID    string
	Origin    string
}

// Delete tombstones the user's own message. Deleting an already deleted message succeeds.
func (s *Service) Delete(ctx context.Context, in DeleteInput) (payload models.MessageDeletedPayload, err error) {
	ctx, span := s.start(ctx, "chat.delete", in.ChatID)
	defer func() { s.finish(span, "delete", err) }()

	if in.MessageID == "" {
		return payload, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	before, err := s.chats.TombstoneMessage(ctx, in.ChatID, in.MessageID, in.UserID, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) || errors.Is(err, repositories.ErrChatNotFound) {
			return payload, s.explainMiss(ctx, "delete", in.ChatID, in.MessageID, in.UserID)
		}
		return payload, s.persistence(ctx, "delete", err)
	}
	for _, key := range before.MediaKeys() {
		s.removeMedia(ctx, key)
	}

	payload = models.MessageDeletedPayload{ConversationID: in.ChatID, MessageID: in.MessageID}
	s.rooms.Broadcast(in.ChatID, models.EventMessageDeleted, payload, in.Origin)
	return payload, nil
}

// Search returns live messages whose text contains query, most recent first.
func (s *Service) Search(ctx context.Context, chatID, userID, query string) (results []models.Message, err error) {
	ctx, span := s.start(ctx, "chat.search", chatID)
	defer func() { s.finish(span, "search", err) }()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, s.lookupErr(ctx, "search", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	}

	results = []models.Message{}
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		m := chat.Messages[i]
		if m.IsDeleted || m.Text == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*m.Text), needle) {
			results = append(results, m)
		}
	}
	return results, nil
}

// participantChat loads the chat summary and checks userID is a participant.
func (s *Service) participantChat(ctx context.Context, chatID, userID string) (models.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return models.Chat{}, fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	chat, err := s.chats.GetChatSummary(ctx, chatID)
	if err != nil {
		return models.Chat{}, s.lookupErr(ctx, "load_chat", err)
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	}
	return chat, nil
}

// explainMiss turns a failed update guard into the error the requester should see.
func (s *Service) explainMiss(ctx context.Context, op, chatID, messageID, userID string) error {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return s.lookupErr(ctx, op, err)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	}
	if messageID == "" {
		return s.persistence(ctx, op, errors.New("update guard missed for participant"))
	}
	idx := chat.MessageIndex(messageID)
	if idx < 0 {
		return fmt.Errorf("%w: message not found", ErrNotFound)
	}
	msg := chat.Messages[idx]
	switch op {
	case "edit":
		if msg.Sender != userID {
			return fmt.Errorf("%w: only the sender can edit this message", ErrForbidden)
		}
		if msg.IsDeleted {
			return fmt.Errorf("%w: message has been deleted", ErrValidation)
		}
		if msg.MessageType != models.MessageTypeText {
			return fmt.Errorf("%w: only text messages can be edited", ErrValidation)
		}
	case "delete":
		if msg.Sender != userID {
			return fmt.Errorf("%w: only the sender can delete this message", ErrForbidden)
		}
	case "react":
		if msg.IsDeleted {
			return fmt.Errorf("%w: message has been deleted", ErrValidation)
		}
	}
	return s.persistence(ctx, op, errors.New("update guard missed"))
}

func (s *Service) lookupErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		return fmt.Errorf("%w: chat not found", ErrNotFound)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: message not found", ErrNotFound)
	case errors.Is(err, repositories.ErrUserNotFound):
		return fmt.Errorf("%w: user not found", ErrNotFound)
	default:
		return s.persistence(ctx, op, err)
	}
}

func (s *Service) persistence(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "chat operation failed",
		"operation", op,
		"error", err,
		"request_id", observability.RequestIDFromContext(ctx),
	)
	return ErrPersistence
}

func (s *Service) senderInfo(ctx context.Context, userID string) models.SenderInfo {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return models.SenderInfo{ID: userID}
	}
	return user.SenderInfo()
}

// notifyParticipants pings online participants outside the room and queues a
// broker notification for offline ones.
func (s *Service) notifyParticipants(ctx context.Context, chat models.Chat, view models.MessageView) {
	var offline []string
	for _, p := range chat.Participants {
		if p == view.Sender {
			continue
		}
		if !s.presence.IsOnline(p) {
			offline = append(offline, p)
			continue
		}
		if !s.rooms.UserInRoom(p, chat.ID) {
			s.rooms.SendToUser(p, models.EventNewNotification, models.NotificationPayload{
				Type:           "message",
				ConversationID: chat.ID,
				Message:        view,
			})
		}
	}
	if len(offline) == 0 {
		return
	}

	preview := view.Preview()
	headers := observability.BuildHeaders(observability.RequestIDFromContext(ctx), observability.TraceIDFromContext(ctx))
	_ = observability.PublishEvent(ctx, notificationRoutingKey, observability.EventEnvelope{
		EventType: "notifications",
		EventName: "new_message",
		Payload: map[string]interface{}{
			"conversation_id": chat.ID,
			"message_id":      view.ID,
			"message_type":    view.MessageType,
			"sender":          view.SenderInfo,
			"recipients":      offline,
			"preview":         preview.Text,
			"is_group":        chat.IsGroup,
			"group_name":      chat.GroupName,
		},
	}, headers)
}

func (s *Service) removeMedia(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.media.Remove(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "media cleanup failed", "key", key, "error", err)
	}
}

func (s *Service) start(ctx context.Context, name, chatID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("chat.id", chatID)))
}

func (s *Service) finish(span trace.Span, op string, err error) {
	observability.ObserveChatOperation(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, PublicMessage(err))
	}
	span.End()
}

type noopRooms struct{}

func (noopRooms) Broadcast(string, string, any, string) {}
func (noopRooms) SendToUser(string, string, any)         {}
func (noopRooms) UserInRoom(string, string) bool         { return false }

type noopPresence struct{}

func (noopPresence) IsOnline(string) bool { return false }
