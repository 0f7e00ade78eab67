package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"convo/pkg/logger"
	"convo/pkg/models"
)

// Append assigns the next sequence number for the conversation, stores the
// message and advances the conversation's last-message pointer and
// UpdatedTS, all inside the conversation's critical section. Prior entries
// are never reordered or mutated. The stored message (with Seq filled in)
// is returned.
func (s *Store) Append(convID string, m *models.Message) (*models.Message, error) {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()

	conv, err := s.GetConversation(convID)
	if err != nil {
		return nil, err
	}

	m.Conversation = convID
	m.Seq = conv.LastSeq + 1

	ref := msgRef{Key: string(msgKey(convID, m.Seq))}

	mb, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	rb, _ := json.Marshal(ref)

	conv.LastSeq = m.Seq
	conv.LastMessage = m
	conv.UpdatedTS = m.TS
	cb, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}

	wb := s.db.NewBatch()
	defer wb.Close()
	_ = wb.Set([]byte(ref.Key), mb, nil)
	_ = wb.Set(idxKey(m.ID), rb, nil)
	_ = wb.Set(metaKey(convID), cb, nil)
	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Error("append_failed", "conv", convID, "msg", m.ID, "error", err)
		return nil, err
	}
	logger.Debug("message_appended", "conv", convID, "msg", m.ID, "seq", m.Seq)
	return m, nil
}

// LoadTail returns up to limit of the newest messages for a conversation,
// ordered oldest-first (chronological, the order a chat pane renders).
// limit <= 0 applies no bound.
func (s *Store) LoadTail(convID string, limit int) ([]models.Message, error) {
	if _, err := s.GetConversation(convID); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: msgPrefix(convID),
		UpperBound: msgUpperBound(convID),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	// Walk backward from the tail so the bound applies to the newest
	// entries, then reverse into chronological order.
	var rev []models.Message
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message record: %w", err)
		}
		rev = append(rev, m)
		if limit > 0 && len(rev) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	out := make([]models.Message, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out, nil
}

// GetMessage returns the message stored under the given id (temporary or
// confirmed).
func (s *Store) GetMessage(msgID string) (*models.Message, error) {
	rv, err := s.get(idxKey(msgID))
	if err != nil {
		return nil, err
	}
	var ref msgRef
	if err := json.Unmarshal(rv, &ref); err != nil {
		return nil, fmt.Errorf("invalid message index: %w", err)
	}
	mv, err := s.get([]byte(ref.Key))
	if err != nil {
		return nil, err
	}
	var m models.Message
	if err := json.Unmarshal(mv, &m); err != nil {
		return nil, fmt.Errorf("invalid message record: %w", err)
	}
	return &m, nil
}

// ReplaceOptimistic swaps the placeholder stored under tempID for its
// confirmed counterpart at the same logical position (same key, same
// sequence number). If the placeholder was already removed, which is a
// legitimate race with a timeout-triggered rollback, the call is a
// silent no-op.
func (s *Store) ReplaceOptimistic(tempID string, confirmed *models.Message) error {
	conv := confirmed.Conversation
	l := s.convLock(conv)
	l.Lock()
	defer l.Unlock()

	rv, err := s.get(idxKey(tempID))
	if err != nil {
		if err == ErrNotFound {
			logger.Debug("replace_optimistic_gone", "temp", tempID)
			return nil
		}
		return err
	}
	var ref msgRef
	if err := json.Unmarshal(rv, &ref); err != nil {
		return fmt.Errorf("invalid message index: %w", err)
	}

	// The placeholder keeps its log position: carry the sequence number
	// over to the confirmed record.
	mv, err := s.get([]byte(ref.Key))
	if err != nil {
		return err
	}
	var placeholder models.Message
	if err := json.Unmarshal(mv, &placeholder); err != nil {
		return fmt.Errorf("invalid message record: %w", err)
	}
	confirmed.Seq = placeholder.Seq
	confirmed.Pending = false

	meta, err := s.GetConversation(conv)
	if err != nil {
		return err
	}

	mb, err := json.Marshal(confirmed)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	newRef, _ := json.Marshal(msgRef{Key: ref.Key})

	wb := s.db.NewBatch()
	defer wb.Close()
	_ = wb.Set([]byte(ref.Key), mb, nil)
	_ = wb.Delete(idxKey(tempID), nil)
	_ = wb.Set(idxKey(confirmed.ID), newRef, nil)
	if meta.LastMessage != nil && meta.LastMessage.ID == tempID {
		meta.LastMessage = confirmed
		meta.UpdatedTS = confirmed.TS
		cb, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal conversation: %w", err)
		}
		_ = wb.Set(metaKey(conv), cb, nil)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Error("replace_optimistic_failed", "temp", tempID, "msg", confirmed.ID, "error", err)
		return err
	}
	logger.Debug("optimistic_confirmed", "temp", tempID, "msg", confirmed.ID, "seq", confirmed.Seq)
	return nil
}

// RemoveOptimistic deletes the placeholder stored under tempID, rolling
// the conversation back as if the send never happened: when the removed
// message was the most recent one, LastMessage, UpdatedTS and the
// sequence counter all revert to the surviving tail message, skipping
// over any slots earlier rollbacks vacated, so the next append reuses
// the freed range. With no survivors the conversation returns to its
// creation state. Removing an already-removed placeholder is a silent
// no-op.
func (s *Store) RemoveOptimistic(convID, tempID string) error {
	l := s.convLock(convID)
	l.Lock()
	defer l.Unlock()

	rv, err := s.get(idxKey(tempID))
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	var ref msgRef
	if err := json.Unmarshal(rv, &ref); err != nil {
		return fmt.Errorf("invalid message index: %w", err)
	}
	mv, err := s.get([]byte(ref.Key))
	if err != nil {
		return err
	}
	var removed models.Message
	if err := json.Unmarshal(mv, &removed); err != nil {
		return fmt.Errorf("invalid message record: %w", err)
	}

	meta, err := s.GetConversation(convID)
	if err != nil {
		return err
	}

	wb := s.db.NewBatch()
	defer wb.Close()
	_ = wb.Delete([]byte(ref.Key), nil)
	_ = wb.Delete(idxKey(tempID), nil)

	if removed.Seq == meta.LastSeq {
		prev, perr := s.tailBefore(convID, ref.Key)
		if perr != nil {
			return perr
		}
		if prev != nil {
			meta.LastSeq = prev.Seq
			meta.LastMessage = prev
			meta.UpdatedTS = prev.TS
		} else {
			meta.LastSeq = 0
			meta.LastMessage = nil
			meta.UpdatedTS = meta.CreatedTS
		}
		cb, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal conversation: %w", err)
		}
		_ = wb.Set(metaKey(convID), cb, nil)
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		logger.Error("remove_optimistic_failed", "temp", tempID, "error", err)
		return err
	}
	logger.Debug("optimistic_rolled_back", "conv", convID, "temp", tempID, "seq", removed.Seq)
	return nil
}

// tailBefore returns the message stored immediately before the given key
// in a conversation's log, or nil when none exists.
func (s *Store) tailBefore(convID, key string) (*models.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: msgPrefix(convID),
		UpperBound: []byte(key),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if !iter.Last() {
		return nil, iter.Error()
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, fmt.Errorf("invalid message record: %w", err)
	}
	return &m, nil
}
