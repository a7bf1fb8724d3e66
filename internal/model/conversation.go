package model

import "time"

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Participant is the denormalized profile summary shown for a conversation:
// the other user's profile for direct chats, the group image/event link for
// group chats.
type Participant struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	EventLink   string `json:"event_link,omitempty"`
}

type Conversation struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"kind"`
	Title         string           `json:"title,omitempty"`
	Participant   Participant      `json:"participant"`
	LastMessageAt time.Time        `json:"last_message_at"`
	UnreadCount   int              `json:"unread_count"`
	IsMuted       bool             `json:"is_muted"`
	LastMessage   *Message         `json:"last_message,omitempty"`
}
