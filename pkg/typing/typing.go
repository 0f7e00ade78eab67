// Package typing tracks "user X is composing in conversation Y" state.
// The state is advisory and never persisted; staleness here has no
// effect on the message log.
package typing

import (
	"sort"
	"sync"
	"time"

	"convo/pkg/models"
)

type entry struct {
	name      string
	expiresAt time.Time
	timer     *time.Timer
}

// Coordinator holds auto-expiring typing state. At most one live timer
// exists per (conversation, user) pair; a repeated start refreshes that
// timer instead of stacking another.
type Coordinator struct {
	ttl time.Duration

	mu    sync.Mutex
	convs map[string]map[string]*entry // conv id -> user id -> state
}

// New builds a Coordinator with the given expiry TTL (3s when <= 0).
func New(ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Coordinator{ttl: ttl, convs: map[string]map[string]*entry{}}
}

// Set upserts or clears typing state. isTyping=true arms (or re-arms) the
// expiry timer; isTyping=false removes the state and cancels the timer
// immediately.
func (c *Coordinator) Set(convID, userID, displayName string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !isTyping {
		c.removeLocked(convID, userID)
		return
	}
	users := c.convs[convID]
	if users == nil {
		users = map[string]*entry{}
		c.convs[convID] = users
	}
	if e, ok := users[userID]; ok {
		e.name = displayName
		e.expiresAt = time.Now().Add(c.ttl)
		e.timer.Reset(c.ttl)
		return
	}
	e := &entry{name: displayName, expiresAt: time.Now().Add(c.ttl)}
	e.timer = time.AfterFunc(c.ttl, func() { c.expire(convID, userID) })
	users[userID] = e
}

// Clear removes a user's typing state in a conversation, if any. Sending
// a message calls this so a just-sent message never leaves a dangling
// indicator.
func (c *Coordinator) Clear(convID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(convID, userID)
}

func (c *Coordinator) removeLocked(convID, userID string) {
	users := c.convs[convID]
	e, ok := users[userID]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(c.convs, convID)
	}
}

// expire removes the entry when its timer fires, unless a refresh moved
// the deadline forward in the meantime.
func (c *Coordinator) expire(convID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.convs[convID]
	e, ok := users[userID]
	if !ok {
		return
	}
	if time.Now().Before(e.expiresAt) {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(c.convs, convID)
	}
}

// ActiveTypers returns the display names of users currently typing in a
// conversation, excluding the requesting user, sorted for stable output.
func (c *Coordinator) ActiveTypers(convID, requestingUserID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var out []string
	for uid, e := range c.convs[convID] {
		if uid == requestingUserID || now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// States returns raw typing states for a conversation (diagnostics).
func (c *Coordinator) States(convID string) []models.TypingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.TypingState
	for uid, e := range c.convs[convID] {
		out = append(out, models.TypingState{
			Conversation: convID,
			UserID:       uid,
			DisplayName:  e.name,
			ExpiresAt:    e.expiresAt.UnixNano(),
		})
	}
	return out
}
