package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"social-realtime/internal/models"
)

// MemoryChatRepo is an in-process ChatRepository. Each method runs under one
// lock, which gives the same per-document atomicity as the Mongo updates.
type MemoryChatRepo struct {
	mu    sync.Mutex
	chats map[string]*models.Chat
}

func NewMemoryChatRepo() *MemoryChatRepo {
	return &MemoryChatRepo{chats: make(map[string]*models.Chat)}
}

func (r *MemoryChatRepo) GetChat(_ context.Context, chatID string) (models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return cloneChat(*chat, true), nil
}

func (r *MemoryChatRepo) GetChatSummary(_ context.Context, chatID string) (models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return cloneChat(*chat, false), nil
}

func (r *MemoryChatRepo) IsParticipant(_ context.Context, chatID string, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return false, ErrChatNotFound
	}
	return chat.HasParticipant(userID), nil
}

func (r *MemoryChatRepo) ListChats(_ context.Context, userID string) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chats := []models.Chat{}
	for _, chat := range r.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, cloneChat(*chat, false))
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, nil
}

func (r *MemoryChatRepo) CreateOrGetDirect(_ context.Context, chat models.Chat) (models.Chat, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.chats {
		if existing.DirectKey != "" && existing.DirectKey == chat.DirectKey {
			return cloneChat(*existing, false), false, nil
		}
	}
	stored := cloneChat(normalizeChat(chat), true)
	r.chats[chat.ID] = &stored
	return cloneChat(stored, false), true, nil
}

func (r *MemoryChatRepo) CreateChat(_ context.Context, chat models.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneChat(normalizeChat(chat), true)
	r.chats[chat.ID] = &stored
	return nil
}

func (r *MemoryChatRepo) DeleteChat(_ context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(r.chats, chatID)
	return nil
}

func (r *MemoryChatRepo) AppendMessage(_ context.Context, chatID string, msg models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok || !chat.HasParticipant(msg.Sender) {
		return ErrChatNotFound
	}
	chat.Messages = append(chat.Messages, cloneMessage(normalizeMessage(msg)))
	chat.LastMessage = msg.Preview()
	chat.UpdatedAt = msg.CreatedAt
	return nil
}

func (r *MemoryChatRepo) MarkRead(_ context.Context, chatID string, userID string, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok || !chat.HasParticipant(userID) {
		return ErrChatNotFound
	}
	for i := range chat.Messages {
		if !chat.Messages[i].ReadByUser(userID) {
			chat.Messages[i].ReadBy = append(chat.Messages[i].ReadBy, models.ReadReceipt{User: userID, ReadAt: readAt})
		}
	}
	return nil
}

func (r *MemoryChatRepo) SetReaction(_ context.Context, chatID, messageID, userID string, emoji *string, at time.Time) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, chat, err := r.locate(chatID, messageID)
	if err != nil || !chat.HasParticipant(userID) || msg.IsDeleted {
		return models.Message{}, ErrMessageNotFound
	}
	kept := make([]models.Reaction, 0, len(msg.Reactions)+1)
	for _, reaction := range msg.Reactions {
		if reaction.User != userID {
			kept = append(kept, reaction)
		}
	}
	if emoji != nil {
		kept = append(kept, models.Reaction{User: userID, Emoji: *emoji, CreatedAt: at})
	}
	msg.Reactions = kept
	chat.UpdatedAt = at
	return cloneMessage(*msg), nil
}

func (r *MemoryChatRepo) EditMessage(_ context.Context, chatID, messageID, editorID, text string, at time.Time) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, chat, err := r.locate(chatID, messageID)
	if err != nil || !chat.HasParticipant(editorID) || msg.Sender != editorID || msg.IsDeleted || msg.MessageType != models.MessageTypeText {
		return models.Message{}, ErrMessageNotFound
	}
	previous := ""
	if msg.Text != nil {
		previous = *msg.Text
	}
	msg.EditHistory = append(msg.EditHistory, models.EditEntry{Text: previous, EditedAt: at})
	msg.Text = &text
	msg.IsEdited = true
	chat.UpdatedAt = at
	return cloneMessage(*msg), nil
}

func (r *MemoryChatRepo) TombstoneMessage(_ context.Context, chatID, messageID, requesterID string, at time.Time) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, chat, err := r.locate(chatID, messageID)
	if err != nil || !chat.HasParticipant(requesterID) || msg.Sender != requesterID {
		return models.Message{}, ErrMessageNotFound
	}
	before := cloneMessage(*msg)
	msg.Tombstone()
	chat.UpdatedAt = at
	return before, nil
}

func (r *MemoryChatRepo) MessagesPage(_ context.Context, chatID string, skip, n int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	page := []models.Message{}
	if skip < 0 || skip >= len(chat.Messages) {
		return page, nil
	}
	for i := len(chat.Messages) - 1 - skip; i >= 0 && len(page) < n; i-- {
		page = append(page, cloneMessage(chat.Messages[i]))
	}
	return page, nil
}

func (r *MemoryChatRepo) UpdateGroup(_ context.Context, chatID, adminID string, changes GroupChanges) (models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok || !chat.IsAdmin(adminID) {
		return models.Chat{}, ErrChatNotFound
	}
	if changes.Name != nil {
		chat.GroupName = *changes.Name
	}
	if changes.Avatar != nil {
		avatar := *changes.Avatar
		chat.GroupAvatar = &avatar
	}
	if len(changes.AddParticipants) > 0 || len(changes.RemoveParticipants) > 0 {
		removed := toSet(changes.RemoveParticipants)
		participants := []string{}
		seen := map[string]bool{}
		for _, id := range append(append([]string{}, chat.Participants...), changes.AddParticipants...) {
			if seen[id] || removed[id] {
				continue
			}
			seen[id] = true
			participants = append(participants, id)
		}
		admins := []string{}
		for _, id := range chat.Admins {
			if !removed[id] {
				admins = append(admins, id)
			}
		}
		chat.Participants = participants
		chat.Admins = admins
	}
	chat.UpdatedAt = changes.UpdatedAt
	return cloneChat(*chat, false), nil
}

func (r *MemoryChatRepo) locate(chatID, messageID string) (*models.Message, *models.Chat, error) {
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, nil, ErrChatNotFound
	}
	idx := chat.MessageIndex(messageID)
	if idx < 0 {
		return nil, nil, ErrMessageNotFound
	}
	return &chat.Messages[idx], chat, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func cloneChat(chat models.Chat, withMessages bool) models.Chat {
	out := chat
	out.Participants = append([]string{}, chat.Participants...)
	out.Admins = append([]string(nil), chat.Admins...)
	if chat.GroupAvatar != nil {
		avatar := *chat.GroupAvatar
		out.GroupAvatar = &avatar
	}
	if chat.LastMessage != nil {
		last := *chat.LastMessage
		out.LastMessage = &last
	}
	out.Messages = nil
	if withMessages {
		out.Messages = make([]models.Message, 0, len(chat.Messages))
		for _, m := range chat.Messages {
			out.Messages = append(out.Messages, cloneMessage(m))
		}
	}
	return out
}

func cloneMessage(m models.Message) models.Message {
	out := m
	if m.Text != nil {
		text := *m.Text
		out.Text = &text
	}
	if m.Image != nil {
		image := *m.Image
		out.Image = &image
	}
	if m.Audio != nil {
		audio := *m.Audio
		out.Audio = &audio
	}
	out.EditHistory = append([]models.EditEntry{}, m.EditHistory...)
	out.ReadBy = append([]models.ReadReceipt{}, m.ReadBy...)
	out.Reactions = append([]models.Reaction{}, m.Reactions...)
	return out
}
