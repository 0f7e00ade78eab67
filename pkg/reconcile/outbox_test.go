package reconcile

import (
	"bytes"
	"testing"
)

func TestOutboxTryEnqueueAndDrain(t *testing.T) {
	o := NewOutbox(4)
	if err := o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp-1", Payload: []byte("hello")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if o.Len() != 1 {
		t.Fatalf("len = %d, want 1", o.Len())
	}

	it := <-o.Out()
	if it.Op.Conv != "c1" || it.Op.TempID != "tmp-1" {
		t.Fatalf("unexpected op: %+v", it.Op)
	}
	if !bytes.Equal(it.Op.Payload, []byte("hello")) {
		t.Fatalf("payload = %q, want hello", it.Op.Payload)
	}
	if it.Op.EnqSeq != 1 {
		t.Fatalf("enqueue seq = %d, want 1", it.Op.EnqSeq)
	}
	it.Done()
	// Done is idempotent.
	it.Done()
}

func TestOutboxPayloadIsCopied(t *testing.T) {
	o := NewOutbox(4)
	payload := []byte("original")
	if err := o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp-1", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	copy(payload, "XXXXXXXX")

	it := <-o.Out()
	defer it.Done()
	if !bytes.Equal(it.Op.Payload, []byte("original")) {
		t.Fatalf("payload aliased caller slice: %q", it.Op.Payload)
	}
}

func TestOutboxEnqueueAfterClose(t *testing.T) {
	o := NewOutbox(4)
	o.CloseAndDrain()

	if err := o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp-1", Payload: []byte("x")}); err != ErrQueueFull {
		t.Fatalf("enqueue after close err = %v, want ErrQueueFull", err)
	}
	if o.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", o.Dropped())
	}
	// Closing again is a no-op.
	o.CloseAndDrain()
}

func TestOutboxConcurrentEnqueueAndClose(t *testing.T) {
	o := NewOutbox(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp", Payload: []byte("x")})
		}
	}()
	go func() {
		for it := range o.Out() {
			it.Done()
		}
	}()
	o.CloseAndDrain()
	<-done
}

func TestOutboxFull(t *testing.T) {
	o := NewOutbox(1)
	if err := o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp-1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := o.TryEnqueue(&Op{Conv: "c1", TempID: "tmp-2"}); err != ErrQueueFull {
		t.Fatalf("second enqueue err = %v, want ErrQueueFull", err)
	}
	if o.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", o.Dropped())
	}
	o.CloseAndDrain()
}
