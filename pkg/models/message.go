package models

import "strings"

// Message content kinds.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentFile     = "file"
	ContentLocation = "location"
)

// Content is the tagged payload of a message. Type selects which of the
// remaining fields are meaningful.
type Content struct {
	Type string `json:"type"`
	// text
	Text string `json:"text,omitempty"`
	// image / file
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
	Name    string `json:"name,omitempty"`
	Size    int64  `json:"size,omitempty"`
	// location
	Lat float64 `json:"lat,omitempty"`
	Lng float64 `json:"lng,omitempty"`
}

// Preview returns a short human-readable rendering of the content for
// notification payloads and last-message summaries.
func (c Content) Preview() string {
	switch c.Type {
	case ContentText:
		// Truncate on rune boundaries so multi-byte text is never cut
		// mid-character.
		if r := []rune(c.Text); len(r) > 80 {
			return string(r[:80])
		}
		return c.Text
	case ContentImage:
		if c.Caption != "" {
			return "[image] " + c.Caption
		}
		return "[image]"
	case ContentFile:
		if c.Name != "" {
			return "[file] " + c.Name
		}
		return "[file]"
	case ContentLocation:
		return "[location]"
	}
	return ""
}

// TempIDPrefix marks client-local ids assigned to optimistic messages
// before the transport confirms them. Confirmed ids never carry it.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id is a client-local optimistic id.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

// Message is one entry in a conversation's append-only log. Immutable once
// confirmed. Seq is assigned by the store and strictly increases within a
// conversation; TS is wall-clock nanoseconds and is not a safe sort key on
// its own. Pending marks an optimistic message awaiting confirmation.
type Message struct {
	ID           string  `json:"id"`
	Conversation string  `json:"conversation"`
	Sender       string  `json:"sender"`
	SenderName   string  `json:"sender_name,omitempty"`
	Content      Content `json:"content"`
	Seq          uint64  `json:"seq"`
	TS           int64   `json:"ts"`
	Pending      bool    `json:"pending,omitempty"`
}
