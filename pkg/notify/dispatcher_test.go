package notify_test

import (
	"testing"
	"time"

	"convo/pkg/models"
	"convo/pkg/notify"
	"convo/pkg/registry"
	"convo/pkg/store"
)

func setup(t *testing.T) (*notify.Dispatcher, *registry.Registry, *store.Store, *models.Conversation) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	reg := registry.New(s)
	d := notify.New(reg, s)

	conv, err := reg.FindOrCreate(
		models.Participant{UserID: "alice", DisplayName: "Alice", Role: models.RolePersonal},
		models.Participant{UserID: "bob", DisplayName: "Bob", Role: models.RolePersonal},
	)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return d, reg, s, conv
}

func confirmed(convID, sender, senderName, text string) *models.Message {
	return &models.Message{
		ID:           "srv-1",
		Conversation: convID,
		Sender:       sender,
		SenderName:   senderName,
		Content:      models.Content{Type: models.ContentText, Text: text},
		Seq:          1,
		TS:           time.Now().UTC().UnixNano(),
	}
}

func TestInactiveRecipientGetsUnreadAndEvent(t *testing.T) {
	d, _, s, conv := setup(t)
	id, ch := d.Subscribe()
	defer d.Unsubscribe(id)

	d.MessageConfirmed(conv, confirmed(conv.ID, "alice", "Alice", "hey bob"))

	got, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Unread["bob"] != 1 {
		t.Fatalf("bob unread = %d, want 1", got.Unread["bob"])
	}
	if got.Unread["alice"] != 0 {
		t.Fatalf("alice unread = %d, want 0 (sender never bumped)", got.Unread["alice"])
	}

	select {
	case n := <-ch:
		if n.Recipient != "bob" {
			t.Fatalf("recipient = %s, want bob", n.Recipient)
		}
		if n.Conversation != conv.ID {
			t.Fatalf("conversation = %s, want %s", n.Conversation, conv.ID)
		}
		if n.SenderName != "Alice" {
			t.Fatalf("sender name = %s, want Alice", n.SenderName)
		}
		if n.Preview != "hey bob" {
			t.Fatalf("preview = %q, want %q", n.Preview, "hey bob")
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification emitted")
	}
}

func TestActiveRecipientSuppressed(t *testing.T) {
	d, reg, s, conv := setup(t)
	id, ch := d.Subscribe()
	defer d.Unsubscribe(id)

	reg.SetActive("bob", conv.ID)
	d.MessageConfirmed(conv, confirmed(conv.ID, "alice", "Alice", "seen live"))

	got, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Unread["bob"] != 0 {
		t.Fatalf("bob unread = %d, want 0 while actively viewing", got.Unread["bob"])
	}
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActiveInDifferentConversationStillNotified(t *testing.T) {
	d, reg, s, conv := setup(t)

	other, err := reg.FindOrCreate(
		models.Participant{UserID: "bob", DisplayName: "Bob", Role: models.RolePersonal},
		models.Participant{UserID: "carol", DisplayName: "Carol", Role: models.RolePersonal},
	)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	reg.SetActive("bob", other.ID)

	d.MessageConfirmed(conv, confirmed(conv.ID, "alice", "Alice", "over here"))

	got, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.Unread["bob"] != 1 {
		t.Fatalf("bob unread = %d, want 1 (viewing a different conversation)", got.Unread["bob"])
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	d, _, _, _ := setup(t)
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
}
