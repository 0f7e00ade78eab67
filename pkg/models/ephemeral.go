package models

// TypingState records that a user is composing a message in a
// conversation. Never persisted; auto-removed when ExpiresAt passes.
type TypingState struct {
	Conversation string `json:"conversation"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	ExpiresAt    int64  `json:"expires_at"`
}

// PresenceState is a best-effort online/offline marker. Advisory only:
// it never gates message delivery or conversation creation.
type PresenceState struct {
	UserID     string `json:"user_id"`
	Online     bool   `json:"online"`
	LastSeenTS int64  `json:"last_seen_ts"`
}

// Notification is emitted when a confirmed message lands in a
// conversation its recipient is not actively viewing.
type Notification struct {
	Recipient    string `json:"recipient"`
	Conversation string `json:"conversation"`
	SenderName   string `json:"sender_name"`
	Preview      string `json:"preview"`
	TS           int64  `json:"ts"`
}
