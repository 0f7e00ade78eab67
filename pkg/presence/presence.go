// Package presence tracks best-effort online/offline state. Presence is
// informational only: it never gates message delivery or conversation
// creation, so a relaxed lock-free policy is fine here.
package presence

import (
	"sync"
	"time"

	"convo/pkg/models"
)

// Tracker holds per-user presence.
type Tracker struct {
	m sync.Map // user id -> models.PresenceState
}

// New builds an empty Tracker.
func New() *Tracker { return &Tracker{} }

// SetOnline marks a user online or offline, stamping LastSeen.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.m.Store(userID, models.PresenceState{
		UserID:     userID,
		Online:     online,
		LastSeenTS: time.Now().UTC().UnixNano(),
	})
}

// IsOnline reports the last known online state; unknown users are
// offline.
func (t *Tracker) IsOnline(userID string) bool {
	if v, ok := t.m.Load(userID); ok {
		return v.(models.PresenceState).Online
	}
	return false
}

// LastSeen returns the last observed transition time in nanoseconds,
// or zero for unknown users.
func (t *Tracker) LastSeen(userID string) int64 {
	if v, ok := t.m.Load(userID); ok {
		return v.(models.PresenceState).LastSeenTS
	}
	return 0
}

// Get returns the full presence record for a user.
func (t *Tracker) Get(userID string) models.PresenceState {
	if v, ok := t.m.Load(userID); ok {
		return v.(models.PresenceState)
	}
	return models.PresenceState{UserID: userID}
}
