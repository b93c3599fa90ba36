package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"social-realtime/internal/models"
	"social-realtime/internal/repositories"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	maxGroupNameLength = 100
	minGroupMembers    = 2
)

// Page is one page of history in chronological order.
type Page struct {
	Messages []models.MessageView `json:"messages"`
	Page     int                  `json:"page"`
	HasMore  bool                 `json:"hasMore"`
}

// History returns page `page` (1-based) of the conversation, newest page first.
// It fetches limit+1 messages and reports hasMore when the extra one exists.
func (s *Service) History(ctx context.Context, chatID, userID string, page, limit int) (out Page, err error) {
	ctx, span := s.start(ctx, "chat.history", chatID)
	defer func() { s.finish(span, "history", err) }()

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page > math.MaxInt/limit {
		return Page{}, fmt.Errorf("%w: page out of range", ErrValidation)
	}

	member, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return Page{}, s.lookupErr(ctx, "history", err)
	}
	if !member {
		return Page{}, fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	}

	fetched, err := s.chats.MessagesPage(ctx, chatID, (page-1)*limit, limit+1)
	if err != nil {
		return Page{}, s.lookupErr(ctx, "history", err)
	}
	hasMore := len(fetched) > limit
	if hasMore {
		fetched = fetched[:limit]
	}

	senders := s.senderInfos(ctx, fetched)
	views := make([]models.MessageView, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
		info, ok := senders[m.Sender]
		if !ok {
			info = models.SenderInfo{ID: m.Sender}
		}
		views = append(views, models.MessageView{Message: m, SenderInfo: info})
	}
	return Page{Messages: views, Page: page, HasMore: hasMore}, nil
}

func (s *Service) senderInfos(ctx context.Context, msgs []models.Message) map[string]models.SenderInfo {
	seen := map[string]bool{}
	var ids []string
	for _, m := range msgs {
		if !seen[m.Sender] {
			seen[m.Sender] = true
			ids = append(ids, m.Sender)
		}
	}
	infos := make(map[string]models.SenderInfo, len(ids))
	users, err := s.users.BulkUsers(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "resolve senders failed", "error", err)
		return infos
	}
	for _, u := range users {
		infos[u.ID] = u.SenderInfo()
	}
	return infos
}

// ListChats returns the user's conversations, most recently updated first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	chats, err := s.chats.ListChats(ctx, userID)
	if err != nil {
		return nil, s.persistence(ctx, "list_chats", err)
	}
	return chats, nil
}

// StartDirect returns the direct chat between userID and peerID, creating it when absent.
func (s *Service) StartDirect(ctx context.Context, userID, peerID string) (chat models.Chat, created bool, err error) {
	ctx, span := s.start(ctx, "chat.start_direct", "")
	defer func() { s.finish(span, "start_direct", err) }()

	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return models.Chat{}, false, fmt.Errorf("%w: peer_id is required", ErrValidation)
	}
	if peerID == userID {
		return models.Chat{}, false, fmt.Errorf("%w: cannot start a chat with yourself", ErrValidation)
	}
	if _, err := s.users.GetUser(ctx, peerID); err != nil {
		return models.Chat{}, false, s.lookupErr(ctx, "start_direct", err)
	}

	participants := []string{userID, peerID}
	sort.Strings(participants)
	now := s.now()
	chat, created, err = s.chats.CreateOrGetDirect(ctx, models.Chat{
		ID:           s.newID(),
		Participants: participants,
		DirectKey:    models.DirectKey(userID, peerID),
		Messages:     []models.Message{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return models.Chat{}, false, s.persistence(ctx, "start_direct", err)
	}
	return chat, created, nil
}

// CreateGroup creates a group administered by creatorID with at least two other members.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (chat models.Chat, err error) {
	ctx, span := s.start(ctx, "chat.create_group", "")
	defer func() { s.finish(span, "create_group", err) }()

	name = strings.TrimSpace(name)
	if err := validateGroupName(name); err != nil {
		return models.Chat{}, err
	}
	members := uniqueExcept(memberIDs, creatorID)
	if len(members) < minGroupMembers {
		return models.Chat{}, fmt.Errorf("%w: a group needs at least %d other members", ErrValidation, minGroupMembers)
	}
	if err := s.requireUsers(ctx, members); err != nil {
		return models.Chat{}, err
	}

	now := s.now()
	text := "group created"
	created := models.Message{
		ID:          s.newID(),
		Sender:      creatorID,
		MessageType: models.MessageTypeSystem,
		Text:        &text,
		CreatedAt:   now,
		EditHistory: []models.EditEntry{},
		ReadBy:      []models.ReadReceipt{{User: creatorID, ReadAt: now}},
		Reactions:   []models.Reaction{},
	}
	chat = models.Chat{
		ID:           s.newID(),
		Participants: append([]string{creatorID}, members...),
		IsGroup:      true,
		GroupName:    name,
		Admins:       []string{creatorID},
		Messages:     []models.Message{created},
		LastMessage:  created.Preview(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.chats.CreateChat(ctx, chat); err != nil {
		return models.Chat{}, s.persistence(ctx, "create_group", err)
	}

	summary := chat
	summary.Messages = nil
	for _, member := range members {
		s.rooms.SendToUser(member, models.EventGroupUpdated, models.GroupUpdatedPayload{ConversationID: chat.ID, Chat: summary})
	}
	return chat, nil
}

// GroupUpdate is an admin change to a group. Unset fields are left untouched.
// AvatarData is base64 (or a data URL) uploaded to the media store; AvatarURL is stored as is.
type GroupUpdate struct {
	ChatID             string
	UserID             string
	Name               *string
	AvatarData         string
	AvatarURL          string
	AddParticipants    []string
	RemoveParticipants []string
	Origin             string
}

func (s *Service) UpdateGroup(ctx context.Context, in GroupUpdate) (chat models.Chat, err error) {
	ctx, span := s.start(ctx, "chat.update_group", in.ChatID)
	defer func() { s.finish(span, "update_group", err) }()

	current, err := s.chats.GetChatSummary(ctx, in.ChatID)
	if err != nil {
		return models.Chat{}, s.lookupErr(ctx, "update_group", err)
	}
	if !current.IsGroup {
		return models.Chat{}, fmt.Errorf("%w: not a group chat", ErrValidation)
	}
	if !current.IsAdmin(in.UserID) {
		return models.Chat{}, fmt.Errorf("%w: only group admins can update the group", ErrForbidden)
	}

	changes := repositories.GroupChanges{UpdatedAt: s.now()}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateGroupName(name); err != nil {
			return models.Chat{}, err
		}
		changes.Name = &name
	}
	changes.AddParticipants = uniqueExcept(in.AddParticipants, "")
	changes.RemoveParticipants = uniqueExcept(in.RemoveParticipants, "")
	if err := s.requireUsers(ctx, changes.AddParticipants); err != nil {
		return models.Chat{}, err
	}
	if remainingAdmins(current.Admins, changes.RemoveParticipants) == 0 {
		return models.Chat{}, fmt.Errorf("%w: cannot remove the last admin", ErrValidation)
	}

	switch {
	case in.AvatarData != "":
		ref, err := s.uploadAvatar(ctx, in.ChatID, in.AvatarData)
		if err != nil {
			return models.Chat{}, err
		}
		changes.Avatar = &ref
	case strings.TrimSpace(in.AvatarURL) != "":
		changes.Avatar = &models.MediaRef{URL: strings.TrimSpace(in.AvatarURL)}
	}

	if changes.Name == nil && changes.Avatar == nil && len(changes.AddParticipants) == 0 && len(changes.RemoveParticipants) == 0 {
		return models.Chat{}, fmt.Errorf("%w: no changes requested", ErrValidation)
	}

	chat, err = s.chats.UpdateGroup(ctx, in.ChatID, in.UserID, changes)
	if err != nil {
		if changes.Avatar != nil {
			s.removeMedia(ctx, changes.Avatar.Key)
		}
		if errors.Is(err, repositories.ErrChatNotFound) {
			return models.Chat{}, fmt.Errorf("%w: only group admins can update the group", ErrForbidden)
		}
		return models.Chat{}, s.persistence(ctx, "update_group", err)
	}
	if changes.Avatar != nil && current.GroupAvatar != nil && current.GroupAvatar.Key != changes.Avatar.Key {
		s.removeMedia(ctx, current.GroupAvatar.Key)
	}

	payload := models.GroupUpdatedPayload{ConversationID: chat.ID, Chat: chat}
	s.rooms.Broadcast(chat.ID, models.EventGroupUpdated, payload, in.Origin)
	for _, userID := range append(append([]string{}, changes.AddParticipants...), changes.RemoveParticipants...) {
		if !s.rooms.UserInRoom(userID, chat.ID) {
			s.rooms.SendToUser(userID, models.EventGroupUpdated, payload)
		}
	}
	return chat, nil
}

func (s *Service) uploadAvatar(ctx context.Context, chatID, raw string) (models.MediaRef, error) {
	data, contentType, err := decodeMedia(raw, "image/jpeg")
	if err != nil {
		return models.MediaRef{}, err
	}
	key := fmt.Sprintf("chats/%s/avatar/%s.%s", chatID, uuid.NewString(), extensionFor(contentType, imageExtensions, "jpg"))
	ref, err := s.media.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return models.MediaRef{}, s.persistence(ctx, "avatar_upload", err)
	}
	return ref, nil
}

// DeleteChat removes the conversation and its media. Groups can only be deleted by an admin.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID string) (err error) {
	ctx, span := s.start(ctx, "chat.delete_chat", chatID)
	defer func() { s.finish(span, "delete_chat", err) }()

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return s.lookupErr(ctx, "delete_chat", err)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	}
	if chat.IsGroup && !chat.IsAdmin(userID) {
		return fmt.Errorf("%w: only group admins can delete the group", ErrForbidden)
	}
	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return s.lookupErr(ctx, "delete_chat", err)
	}
	for _, key := range chat.MediaKeys() {
		s.removeMedia(ctx, key)
	}
	return nil
}

func (s *Service) requireUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.BulkUsers(ctx, ids)
	if err != nil {
		return s.persistence(ctx, "resolve_users", err)
	}
	found := make(map[string]bool, len(users))
	for _, u := range users {
		found[u.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown users %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}

func validateGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return fmt.Errorf("%w: group name exceeds %d characters", ErrValidation, maxGroupNameLength)
	}
	return nil
}

func uniqueExcept(ids []string, except string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == except || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func remainingAdmins(admins, removed []string) int {
	gone := map[string]bool{}
	for _, id := range removed {
		gone[id] = true
	}
	n := 0
	for _, id := range admins {
		if !gone[id] {
			n++
		}
	}
	return n
}
