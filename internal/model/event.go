package model

import "encoding/json"

// Scope keys for push subscriptions.
const (
	ScopeConversations = "conversations"
)

func MessageScope(conversationID string) string { return "messages:" + conversationID }
func TypingScope(conversationID string) string  { return "typing:" + conversationID }

// Event names carried over the push channel.
const (
	EventMessageInserted = "message.inserted"
	EventMessageDeleted  = "message.deleted"
	EventTyping          = "typing"
)

// PushEvent is the envelope every gateway implementation delivers. Payload
// stays raw until the consumer knows which shape to decode.
type PushEvent struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
