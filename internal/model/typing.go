package model

import "time"

// TypingSignal is an ephemeral presence entry for one remote user. It is
// never persisted; entries expire when not refreshed.
type TypingSignal struct {
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	LastSeenTyping time.Time `json:"-"`
}

// TypingEvent is the wire payload on the typing channel.
type TypingEvent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}
