package model

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVoice MessageType = "voice"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	MediaURL       string      `json:"media_url,omitempty"`
	ThumbnailURL   string      `json:"thumbnail_url,omitempty"`
	MediaDuration  int         `json:"media_duration,omitempty"`
	MediaSize      int64       `json:"media_size,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ReadBy         []string    `json:"read_by,omitempty"`
	IsDeleted      bool        `json:"is_deleted,omitempty"`
}

// Before reports whether m sorts strictly before other in timeline order.
// CreatedAt is the authoritative key; the id breaks ties so ordering is
// total even when two messages share a timestamp.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// ReadByUser reports whether uid appears in the read set.
func (m *Message) ReadByUser(uid string) bool {
	for _, u := range m.ReadBy {
		if u == uid {
			return true
		}
	}
	return false
}
