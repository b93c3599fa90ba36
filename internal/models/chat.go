package models

import (
	"sort"
	"strings"
	"time"
)

// Chat is a conversation document: a direct chat between exactly two users or a group.
type Chat struct {
	ID           string          `bson:"_id" json:"id"`
	Participants []string        `bson:"participants" json:"participants"`
	IsGroup      bool            `bson:"isGroup" json:"isGroup"`
	GroupName    string          `bson:"groupName,omitempty" json:"groupName,omitempty"`
	GroupAvatar  *MediaRef       `bson:"groupAvatar,omitempty" json:"groupAvatar,omitempty"`
	Admins       []string        `bson:"admins,omitempty" json:"admins,omitempty"`
	DirectKey    string          `bson:"directKey,omitempty" json:"-"`
	Messages     []Message       `bson:"messages" json:"messages,omitempty"`
	LastMessage  *MessagePreview `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	CreatedAt    time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// MediaRef points at an object in the media store.
type MediaRef struct {
	URL string `bson:"url" json:"url"`
	Key string `bson:"key,omitempty" json:"-"`
}

// MessagePreview is the denormalized last message shown in chat lists.
type MessagePreview struct {
	MessageID   string    `bson:"messageId" json:"messageId"`
	Sender      string    `bson:"sender" json:"sender"`
	MessageType string    `bson:"messageType" json:"messageType"`
	Text        string    `bson:"text,omitempty" json:"text,omitempty"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

func (c Chat) HasParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

func (c Chat) IsAdmin(userID string) bool {
	return c.IsGroup && contains(c.Admins, userID)
}

// MessageIndex returns the position of the message in the sequence, or -1.
func (c Chat) MessageIndex(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// MediaKeys lists every media object referenced by the chat.
func (c Chat) MediaKeys() []string {
	var keys []string
	if c.GroupAvatar != nil && c.GroupAvatar.Key != "" {
		keys = append(keys, c.GroupAvatar.Key)
	}
	for _, m := range c.Messages {
		keys = append(keys, m.MediaKeys()...)
	}
	return keys
}

// DirectKey is the unordered-pair key that makes a direct chat unique.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
