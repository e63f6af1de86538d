package core

import "time"

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageSystem        MessageType = "system"
	MessageEmojiReaction MessageType = "emoji-reaction"
	MessageMedia         MessageType = "media"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageSystem, MessageEmojiReaction, MessageMedia:
		return true
	}
	return false
}

// Attachment describes uploaded media referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ReplySnapshot is the denormalized copy of a replied-to message carried by the reply itself.
type ReplySnapshot struct {
	Content     string    `json:"content"`
	SenderAlias string    `json:"sender_alias"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChatMessage is the domain model for a chat message. Messages are immutable once created.
type ChatMessage struct {
	ID                string         `json:"id"`
	SenderAlias       string         `json:"sender_alias"`
	SenderAvatarIndex int            `json:"sender_avatar_index"`
	Content           string         `json:"content"`
	Timestamp         time.Time      `json:"timestamp"`
	Type              MessageType    `json:"type"`
	Attachment        *Attachment    `json:"attachment,omitempty"`
	ReplyTo           string         `json:"reply_to,omitempty"`
	ReplyToMessage    *ReplySnapshot `json:"reply_to_message,omitempty"`
}

// Snapshot returns the reply snapshot other messages embed when replying to m.
func (m ChatMessage) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{Content: m.Content, SenderAlias: m.SenderAlias, Timestamp: m.Timestamp}
}
