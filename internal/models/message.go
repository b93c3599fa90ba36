package models

import "time"

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeAudio  = "audio"
	MessageTypePost   = "post"
	MessageTypeSystem = "system"
)

// Message is embedded in its owning Chat and addressed by ID.
type Message struct {
	ID          string        `bson:"_id" json:"id"`
	Sender      string        `bson:"sender" json:"sender"`
	MessageType string        `bson:"messageType" json:"messageType"`
	Text        *string       `bson:"text" json:"text"`
	Image       *MediaRef     `bson:"image,omitempty" json:"image,omitempty"`
	Audio       *MediaRef     `bson:"audio,omitempty" json:"audio,omitempty"`
	PostID      string        `bson:"postId,omitempty" json:"postId,omitempty"`
	CreatedAt   time.Time     `bson:"createdAt" json:"createdAt"`
	IsEdited    bool          `bson:"isEdited" json:"isEdited"`
	IsDeleted   bool          `bson:"isDeleted" json:"isDeleted"`
	EditHistory []EditEntry   `bson:"editHistory" json:"editHistory"`
	ReadBy      []ReadReceipt `bson:"readBy" json:"readBy"`
	Reactions   []Reaction    `bson:"reactions" json:"reactions"`
}

type EditEntry struct {
	Text     string    `bson:"text" json:"text"`
	EditedAt time.Time `bson:"editedAt" json:"editedAt"`
}

type ReadReceipt struct {
	User   string    `bson:"user" json:"user"`
	ReadAt time.Time `bson:"readAt" json:"readAt"`
}

type Reaction struct {
	User      string    `bson:"user" json:"user"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// SenderInfo is the resolved display profile attached to outgoing messages.
type SenderInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// MessageView is a message as delivered to clients.
type MessageView struct {
	Message
	SenderInfo SenderInfo `json:"senderInfo"`
}

func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.User == userID {
			return true
		}
	}
	return false
}

// Preview builds the chat-list preview for the message.
func (m Message) Preview() *MessagePreview {
	p := &MessagePreview{
		MessageID:   m.ID,
		Sender:      m.Sender,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
	}
	if m.Text != nil {
		p.Text = truncate(*m.Text, 120)
	}
	return p
}

func (m Message) MediaKeys() []string {
	var keys []string
	if m.Image != nil && m.Image.Key != "" {
		keys = append(keys, m.Image.Key)
	}
	if m.Audio != nil && m.Audio.Key != "" {
		keys = append(keys, m.Audio.Key)
	}
	return keys
}

// Tombstone clears content while preserving identity, position and receipts.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Text = nil
	m.Image = nil
	m.Audio = nil
	m.PostID = ""
	m.Reactions = []Reaction{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
