package models

import (
	"strings"
	"testing"
)

func TestPairKeySymmetric(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Fatalf("pair key depends on argument order")
	}
	if got := PairKey("alice", "bob"); got != "alice|bob" {
		t.Fatalf("pair key = %q, want alice|bob", got)
	}
}

func TestIsTempID(t *testing.T) {
	if !IsTempID("tmp-abc") {
		t.Fatalf("tmp- prefix not recognized")
	}
	if IsTempID("msg-123") {
		t.Fatalf("confirmed id misclassified as temporary")
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", 200)
	wide := strings.Repeat("é", 100)
	cases := []struct {
		content Content
		want    string
	}{
		{Content{Type: ContentText, Text: "hello"}, "hello"},
		{Content{Type: ContentText, Text: long}, long[:80]},
		{Content{Type: ContentText, Text: wide}, strings.Repeat("é", 80)},
		{Content{Type: ContentImage}, "[image]"},
		{Content{Type: ContentImage, Caption: "sunset"}, "[image] sunset"},
		{Content{Type: ContentFile, Name: "report.pdf"}, "[file] report.pdf"},
		{Content{Type: ContentLocation, Lat: 1, Lng: 2}, "[location]"},
	}
	for _, tc := range cases {
		if got := tc.content.Preview(); got != tc.want {
			t.Fatalf("Preview(%s) = %q, want %q", tc.content.Type, got, tc.want)
		}
	}
}

func TestConversationOtherAndHas(t *testing.T) {
	c := &Conversation{Participants: []Participant{
		{UserID: "alice", DisplayName: "Alice"},
		{UserID: "bob", DisplayName: "Bob"},
	}}
	other, ok := c.Other("alice")
	if !ok || other.UserID != "bob" {
		t.Fatalf("Other(alice) = %+v, %v", other, ok)
	}
	if !c.Has("alice") || !c.Has("bob") {
		t.Fatalf("Has misses a participant")
	}
	if c.Has("carol") {
		t.Fatalf("Has reports a stranger")
	}
}
