package models

import "strings"

// RolePersonal and RoleBusiness classify a participant's account kind.
const (
	RolePersonal = "personal"
	RoleBusiness = "business"
)

// Participant is an immutable snapshot of a user taken when the
// conversation is created. It may go stale relative to the live profile;
// it is display-only.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Role        string `json:"role"`
}

// Conversation is a direct-message thread between exactly two participants.
// Unread holds a counter per participant user id. LastSeq is the highest
// message sequence number assigned in this conversation; sequence numbers
// are assigned only inside the store's append critical section.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Unread       map[string]int `json:"unread,omitempty"`
	LastSeq      uint64        `json:"last_seq"`
	IsArchived   bool          `json:"is_archived,omitempty"`
	ArchivedTS   int64         `json:"archived_ts,omitempty"`
	CreatedTS    int64         `json:"created_ts"`
	UpdatedTS    int64         `json:"updated_ts"`
}

// Other returns the participant that is not userID. Second return is false
// when userID is not a participant at all.
func (c *Conversation) Other(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Has reports whether userID participates in the conversation.
func (c *Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// PairKey returns the canonical identity for a participant pair. The two
// user ids are sorted so (a,b) and (b,a) map to the same key; this is the
// dedup key that keeps FindOrCreate idempotent.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
