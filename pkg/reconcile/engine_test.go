package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"convo/pkg/models"
	"convo/pkg/notify"
	"convo/pkg/reconcile"
	"convo/pkg/registry"
	"convo/pkg/store"
	"convo/pkg/transport"
	"convo/pkg/typing"
	"convo/pkg/utils"
)

// ackTransport confirms every submission immediately.
type ackTransport struct{}

func (ackTransport) SubmitMessage(ctx context.Context, conv *models.Conversation, m *models.Message) (transport.Ack, error) {
	return transport.Ack{ID: utils.GenMsgID(), TS: time.Now().UTC().UnixNano()}, nil
}

func (ackTransport) FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return nil, nil
}

// downTransport fails every submission.
type downTransport struct{}

func (downTransport) SubmitMessage(ctx context.Context, conv *models.Conversation, m *models.Message) (transport.Ack, error) {
	return transport.Ack{}, transport.ErrUnavailable
}

func (downTransport) FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return nil, nil
}

type fixture struct {
	store    *store.Store
	registry *registry.Registry
	typing   *typing.Coordinator
	engine   *reconcile.Engine
	conv     *models.Conversation
	alice    models.Participant
	bob      models.Participant
}

func newFixture(t *testing.T, tr transport.Transport) *fixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s)
	tc := typing.New(50 * time.Millisecond)
	d := notify.New(reg, s)
	e := reconcile.New(s, tc, d, tr, reconcile.Config{ConfirmTimeout: time.Second})
	e.Start()
	t.Cleanup(e.Stop)

	alice := models.Participant{UserID: "alice", DisplayName: "Alice", Role: models.RolePersonal}
	bob := models.Participant{UserID: "bob", DisplayName: "Bob", Role: models.RolePersonal}
	conv, err := reg.FindOrCreate(alice, bob)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return &fixture{store: s, registry: reg, typing: tc, engine: e, conv: conv, alice: alice, bob: bob}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSendConfirmRoundTrip(t *testing.T) {
	f := newFixture(t, ackTransport{})

	tempID, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !models.IsTempID(tempID) {
		t.Fatalf("returned id %q is not a temporary id", tempID)
	}

	// The optimistic entry is visible before confirmation settles.
	msgs, err := f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages right after send, want 1", len(msgs))
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := f.store.GetMessage(tempID)
		return err == store.ErrNotFound
	})

	msgs, err = f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after confirm, want exactly 1", len(msgs))
	}
	got := msgs[0]
	if got.Pending {
		t.Fatalf("confirmed message still pending")
	}
	if models.IsTempID(got.ID) {
		t.Fatalf("confirmed message kept temporary id %q", got.ID)
	}
	if got.Seq != 1 {
		t.Fatalf("confirmed seq = %d, want 1", got.Seq)
	}

	conv, err := f.store.GetConversation(f.conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Unread["bob"] != 1 {
		t.Fatalf("recipient unread = %d, want 1", conv.Unread["bob"])
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	f := newFixture(t, downTransport{})

	tempID, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "doomed"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case fail := <-f.engine.Failures():
		if fail.TempID != tempID {
			t.Fatalf("failure temp id = %s, want %s", fail.TempID, tempID)
		}
		if !errors.Is(fail.Err, transport.ErrUnavailable) {
			t.Fatalf("failure err = %v, want ErrUnavailable", fail.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no failure surfaced")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := f.store.GetMessage(tempID)
		return err == store.ErrNotFound
	})

	msgs, err := f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages after rollback, want 0", len(msgs))
	}
	conv, err := f.store.GetConversation(f.conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.LastMessage != nil {
		t.Fatalf("LastMessage = %+v, want nil after rollback", conv.LastMessage)
	}
	if conv.Unread["bob"] != 0 {
		t.Fatalf("recipient unread = %d, want 0 for a failed send", conv.Unread["bob"])
	}
}

func TestSendRejectsInvalidContent(t *testing.T) {
	f := newFixture(t, ackTransport{})

	if _, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "   "}); err == nil {
		t.Fatalf("expected synchronous validation error")
	}
	msgs, err := f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("invalid content was appended")
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	f := newFixture(t, ackTransport{})
	mallory := models.Participant{UserID: "mallory", DisplayName: "Mallory", Role: models.RolePersonal}
	if _, err := f.engine.Send(f.conv.ID, mallory, models.Content{Type: models.ContentText, Text: "hi"}); err == nil {
		t.Fatalf("expected error for non-participant sender")
	}
}

func TestSendClearsTyping(t *testing.T) {
	f := newFixture(t, ackTransport{})

	f.typing.Set(f.conv.ID, "alice", "Alice", true)
	if typers := f.typing.ActiveTypers(f.conv.ID, "bob"); len(typers) != 1 {
		t.Fatalf("expected alice typing, got %v", typers)
	}
	if _, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "sent"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if typers := f.typing.ActiveTypers(f.conv.ID, "bob"); len(typers) != 0 {
		t.Fatalf("typing not cleared by send: %v", typers)
	}
}

func TestSendAfterStopRejected(t *testing.T) {
	f := newFixture(t, ackTransport{})
	f.engine.Stop()

	_, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "too late"})
	if !errors.Is(err, reconcile.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	// The rejected send leaves no trace in the store.
	msgs, err := f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages after rejected send, want 0", len(msgs))
	}

	// A second Stop (the test cleanup runs one more) is harmless.
	f.engine.Stop()
}

func TestSequenceAcrossConfirmAndRollback(t *testing.T) {
	f := newFixture(t, ackTransport{})

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Send(f.conv.ID, f.alice, models.Content{Type: models.ContentText, Text: "msg"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		msgs, err := f.store.LoadTail(f.conv.ID, 0)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.Pending {
				return false
			}
		}
		return len(msgs) == 3
	})

	msgs, err := f.store.LoadTail(f.conv.ID, 0)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	for i, m := range msgs {
		if m.Seq != uint64(i+1) {
			t.Fatalf("seq[%d] = %d, want %d", i, m.Seq, i+1)
		}
	}
}
