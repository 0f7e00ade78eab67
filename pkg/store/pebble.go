package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"convo/pkg/logger"
	"convo/pkg/models"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// Store owns the Pebble database holding conversations and their message
// logs. All mutation of a conversation's record (unread counters, last
// message, sequence numbers) happens under that conversation's lock, so
// concurrent appends serialize rather than interleave.
//
// Key layout:
//
//	pair:<a>|<b>          -> conversation id (canonical sorted pair)
//	conv:<id>:meta        -> models.Conversation JSON
//	conv:<id>:msg:<seq>   -> models.Message JSON (seq zero-padded to 20)
//	msgidx:<msgID>        -> msgRef JSON (storage key + rollback info)
type Store struct {
	db *pebble.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// msgRef locates a message record by id (temporary or confirmed).
type msgRef struct {
	Key string `json:"key"`
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, locks: map[string]*sync.Mutex{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed")
	return err
}

// convLock returns the mutex serializing mutations for one conversation.
func (s *Store) convLock(convID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[convID] = l
	}
	return l
}

func metaKey(convID string) []byte  { return []byte("conv:" + convID + ":meta") }
func msgPrefix(convID string) []byte { return []byte("conv:" + convID + ":msg:") }
func msgKey(convID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d", convID, seq))
}
func idxKey(msgID string) []byte { return []byte("msgidx:" + msgID) }
func pairKey(pair string) []byte { return []byte("pair:" + pair) }

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// LookupPair returns the conversation id registered for a canonical
// participant-pair key, or ErrNotFound.
func (s *Store) LookupPair(pair string) (string, error) {
	v, err := s.get(pairKey(pair))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// CreateConversation persists a new conversation and its pair index in one
// atomic batch. Callers must hold the pair's creation lock (the registry
// does) so two racing creates cannot both reach this point.
func (s *Store) CreateConversation(conv *models.Conversation, pair string) error {
	b, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	wb := s.db.NewBatch()
	defer wb.Close()
	_ = wb.Set(metaKey(conv.ID), b, nil)
	_ = wb.Set(pairKey(pair), []byte(conv.ID), nil)
	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Error("create_conversation_failed", "conv", conv.ID, "error", err)
		return err
	}
	logger.Info("conversation_created", "conv", conv.ID, "pair", pair)
	return nil
}

// GetConversation loads a conversation's record.
func (s *Store) GetConversation(convID string) (*models.Conversation, error) {
	v, err := s.get(metaKey(convID))
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return nil, fmt.Errorf("invalid conversation record: %w", err)
	}
	return &conv, nil
}

func (s *Store) putConversation(conv *models.Conversation) error {
	b, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.db.Set(metaKey(conv.ID), b, pebble.Sync)
}

// ListConversations returns every conversation that userID participates
// in, ordered by UpdatedTS descending. An empty userID returns all
// conversations (used by the archive runner).
func (s *Store) ListConversations(userID string) ([]*models.Conversation, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("conv:"),
		UpperBound: []byte("conv;"), // ';' sorts just after ':'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []*models.Conversation
	for iter.First(); iter.Valid(); iter.Next() {
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var conv models.Conversation
		if err := json.Unmarshal(iter.Value(), &conv); err != nil {
			logger.Warn("skip_invalid_conversation", "key", string(iter.Key()), "error", err)
			continue
		}
		if userID != "" && !conv.Has(userID) {
			continue
		}
		c := conv
		out = append(out, &c)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

// SetArchived flips the archive flag. Archiving stamps ArchivedTS so the
// purge runner can age the conversation out.
func (s *Store) SetArchived(convID string, archived bool, ts int64) error {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	conv.IsArchived = archived
	if archived {
		conv.ArchivedTS = ts
	} else {
		conv.ArchivedTS = 0
	}
	return s.putConversation(conv)
}

// DeleteConversation removes a conversation, its pair index, its message
// log and all message-id index entries. Used by the archive purge runner.
func (s *Store) DeleteConversation(convID string) error {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()

	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	wb := s.db.NewBatch()
	defer wb.Close()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: msgPrefix(convID),
		UpperBound: msgUpperBound(convID),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if json.Unmarshal(iter.Value(), &m) == nil && m.ID != "" {
			_ = wb.Delete(idxKey(m.ID), nil)
		}
		_ = wb.Delete(append([]byte(nil), iter.Key()...), nil)
	}
	if err := iter.Close(); err != nil {
		return err
	}

	_ = wb.Delete(metaKey(convID), nil)
	if len(conv.Participants) == 2 {
		p := models.PairKey(conv.Participants[0].UserID, conv.Participants[1].UserID)
		_ = wb.Delete(pairKey(p), nil)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Error("delete_conversation_failed", "conv", convID, "error", err)
		return err
	}
	logger.Info("conversation_deleted", "conv", convID)
	return nil
}

// IncrementUnread bumps userID's unread counter for a conversation and
// returns the new value.
func (s *Store) IncrementUnread(convID, userID string) (int, error) {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()
	conv, err := s.GetConversation(convID)
	if err != nil {
		return 0, err
	}
	if conv.Unread == nil {
		conv.Unread = map[string]int{}
	}
	conv.Unread[userID]++
	if err := s.putConversation(conv); err != nil {
		return 0, err
	}
	return conv.Unread[userID], nil
}

// ResetUnread zeroes userID's unread counter. Resetting an already-zero
// counter is a no-op, not an error.
func (s *Store) ResetUnread(convID, userID string) error {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	if conv.Unread[userID] == 0 {
		return nil
	}
	conv.Unread[userID] = 0
	return s.putConversation(conv)
}

// UnreadTotal sums userID's unread counters across all conversations.
func (s *Store) UnreadTotal(userID string) (int, error) {
	convs, err := s.ListConversations(userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		total += c.Unread[userID]
	}
	return total, nil
}

// msgUpperBound is the exclusive upper bound for a conversation's message
// key range.
func msgUpperBound(convID string) []byte {
	p := msgPrefix(convID)
	up := append([]byte(nil), p...)
	up[len(up)-1]++
	return up
}
