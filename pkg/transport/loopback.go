package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"convo/pkg/models"
	"convo/pkg/utils"
)

// Loopback is an in-process Transport that confirms submissions after a
// configurable delay window, optionally failing a fraction of them. It
// models the one property the core depends on: delivery is asynchronous
// and not instantaneous. Fetches are served from the provided lister.
type Loopback struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64

	// Lister resolves conversation fetches; typically Registry.ListForUser.
	Lister func(userID string) ([]*models.Conversation, error)

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLoopback builds a Loopback with the given delay window and failure
// rate (0 disables fault injection).
func NewLoopback(min, max time.Duration, failureRate float64) *Loopback {
	return &Loopback{
		MinDelay:    min,
		MaxDelay:    max,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Loopback) delay() time.Duration {
	if l.MaxDelay <= l.MinDelay {
		return l.MinDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.MinDelay + time.Duration(l.rng.Int63n(int64(l.MaxDelay-l.MinDelay)))
}

func (l *Loopback) fail() bool {
	if l.FailureRate <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.FailureRate
}

// SubmitMessage waits out the simulated network delay, then either acks
// with a server id and timestamp or fails with ErrUnavailable. Honors
// context cancellation during the wait.
func (l *Loopback) SubmitMessage(ctx context.Context, conv *models.Conversation, m *models.Message) (Ack, error) {
	if d := l.delay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		}
	}
	if l.fail() {
		return Ack{}, ErrUnavailable
	}
	return Ack{ID: utils.GenMsgID(), TS: time.Now().UTC().UnixNano()}, nil
}

// FetchConversations serves the fetch from the configured lister.
func (l *Loopback) FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Lister == nil {
		return nil, nil
	}
	return l.Lister(userID)
}
