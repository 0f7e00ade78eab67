package typing_test

import (
	"testing"
	"time"

	"convo/pkg/typing"
)

func TestIndicatorExpires(t *testing.T) {
	c := typing.New(50 * time.Millisecond)
	c.Set("c1", "alice", "Alice", true)

	if got := c.ActiveTypers("c1", "bob"); len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("typers = %v, want [Alice]", got)
	}

	time.Sleep(120 * time.Millisecond)
	if got := c.ActiveTypers("c1", "bob"); len(got) != 0 {
		t.Fatalf("indicator did not expire: %v", got)
	}
}

func TestRefreshExtendsDeadline(t *testing.T) {
	c := typing.New(80 * time.Millisecond)
	c.Set("c1", "alice", "Alice", true)

	// Keep re-arming past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		c.Set("c1", "alice", "Alice", true)
	}
	if got := c.ActiveTypers("c1", "bob"); len(got) != 1 {
		t.Fatalf("refreshed indicator expired early: %v", got)
	}

	time.Sleep(160 * time.Millisecond)
	if got := c.ActiveTypers("c1", "bob"); len(got) != 0 {
		t.Fatalf("indicator survived past its refreshed deadline: %v", got)
	}
}

func TestExplicitStop(t *testing.T) {
	c := typing.New(time.Minute)
	c.Set("c1", "alice", "Alice", true)
	c.Set("c1", "alice", "Alice", false)
	if got := c.ActiveTypers("c1", "bob"); len(got) != 0 {
		t.Fatalf("explicit stop left indicator: %v", got)
	}
	// Stopping a non-typing user is harmless.
	c.Set("c1", "carol", "Carol", false)
}

func TestClear(t *testing.T) {
	c := typing.New(time.Minute)
	c.Set("c1", "alice", "Alice", true)
	c.Clear("c1", "alice")
	if got := c.ActiveTypers("c1", "bob"); len(got) != 0 {
		t.Fatalf("clear left indicator: %v", got)
	}
}

func TestActiveTypersExcludesRequester(t *testing.T) {
	c := typing.New(time.Minute)
	c.Set("c1", "alice", "Alice", true)
	c.Set("c1", "bob", "Bob", true)

	if got := c.ActiveTypers("c1", "alice"); len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("typers for alice = %v, want [Bob]", got)
	}
	if got := c.ActiveTypers("c1", "bob"); len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("typers for bob = %v, want [Alice]", got)
	}
}

func TestConversationsIsolated(t *testing.T) {
	c := typing.New(time.Minute)
	c.Set("c1", "alice", "Alice", true)
	if got := c.ActiveTypers("c2", "bob"); len(got) != 0 {
		t.Fatalf("indicator leaked across conversations: %v", got)
	}
}
