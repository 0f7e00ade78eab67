package registry

import (
	"sync"
	"time"

	"convo/pkg/logger"
	"convo/pkg/models"
	"convo/pkg/store"
	"convo/pkg/utils"
)

// Registry owns conversation identity: the pair-to-conversation mapping,
// per-user active-conversation tracking, and the unread reset that rides
// on a successful tail load. Creation for a given participant pair is
// guarded by a single-writer section per pair key, so two near-
// simultaneous "start chat" actions converge on one conversation.
type Registry struct {
	store *store.Store

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex

	activeMu sync.RWMutex
	active   map[string]string // user id -> conversation id being viewed
}

// New builds a Registry over the given store.
func New(s *store.Store) *Registry {
	return &Registry{
		store:     s,
		pairLocks: map[string]*sync.Mutex{},
		active:    map[string]string{},
	}
}

func (r *Registry) pairLock(pair string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.pairLocks[pair]
	if !ok {
		l = &sync.Mutex{}
		r.pairLocks[pair] = l
	}
	return l
}

// FindOrCreate returns the conversation for the exact participant pair,
// creating it with zero unread counters when none exists. Idempotent
// under concurrent calls for the same pair.
func (r *Registry) FindOrCreate(a, b models.Participant) (*models.Conversation, error) {
	pair := models.PairKey(a.UserID, b.UserID)
	l := r.pairLock(pair)
	l.Lock()
	defer l.Unlock()

	if id, err := r.store.LookupPair(pair); err == nil {
		return r.store.GetConversation(id)
	} else if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC().UnixNano()
	conv := &models.Conversation{
		ID:           utils.GenConvID(),
		Participants: []models.Participant{a, b},
		Unread:       map[string]int{a.UserID: 0, b.UserID: 0},
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if err := r.store.CreateConversation(conv, pair); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns the user's conversations ordered by UpdatedTS
// descending.
func (r *Registry) ListForUser(userID string) ([]*models.Conversation, error) {
	return r.store.ListConversations(userID)
}

// Get loads one conversation.
func (r *Registry) Get(convID string) (*models.Conversation, error) {
	return r.store.GetConversation(convID)
}

// SetActive records which conversation, if any, the user is currently
// viewing. An empty convID clears it. The unread counter is NOT reset
// here: viewing is only confirmed by the next successful tail load, so a
// failed open never zeroes a counter.
func (r *Registry) SetActive(userID, convID string) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if convID == "" {
		delete(r.active, userID)
		return
	}
	r.active[userID] = convID
}

// ActiveConversation returns the conversation the user is viewing, or "".
func (r *Registry) ActiveConversation(userID string) string {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	return r.active[userID]
}

// LoadTail loads the newest messages of a conversation (oldest-first, see
// store.LoadTail) on behalf of userID. When the load succeeds and the
// conversation is still the user's active one, their unread counter is
// reset; if the user navigated away between SetActive and the load
// completing, the reset is silently skipped.
func (r *Registry) LoadTail(convID, userID string, limit int) ([]models.Message, error) {
	msgs, err := r.store.LoadTail(convID, limit)
	if err != nil {
		return nil, err
	}
	if r.ActiveConversation(userID) == convID {
		if err := r.store.ResetUnread(convID, userID); err != nil {
			logger.Warn("unread_reset_failed", "conv", convID, "user", userID, "error", err)
		}
	}
	return msgs, nil
}
