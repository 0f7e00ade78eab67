// Package transport defines the boundary to the backend that confirms
// message submissions. The core treats it as an asynchronous call that
// either acks or errors; the wire protocol behind it is not this
// package's concern.
package transport

import (
	"context"
	"errors"

	"convo/pkg/models"
)

// ErrUnavailable is returned when the backend rejected or could not take
// the submission. It is always recoverable: the caller rolls back the
// optimistic message and may retry the send.
var ErrUnavailable = errors.New("transport unavailable")

// Ack is the backend's confirmation of a submitted message: the canonical
// message id and the server-assigned timestamp, which may correct the
// client's clock.
type Ack struct {
	ID string
	TS int64
}

// Transport submits locally-originated messages for confirmation and
// serves conversation fetches. Implementations must be safe for
// concurrent use; SubmitMessage is always called outside any
// conversation lock.
type Transport interface {
	SubmitMessage(ctx context.Context, conv *models.Conversation, m *models.Message) (Ack, error)
	FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
}
