package validation_test

import (
	"errors"
	"strings"
	"testing"

	"convo/pkg/models"
	"convo/pkg/validation"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		content models.Content
		ok      bool
	}{
		{"text ok", models.Content{Type: models.ContentText, Text: "hello"}, true},
		{"text empty", models.Content{Type: models.ContentText, Text: ""}, false},
		{"text whitespace", models.Content{Type: models.ContentText, Text: "   \n\t"}, false},
		{"text too long", models.Content{Type: models.ContentText, Text: strings.Repeat("a", 5000)}, false},
		{"image ok", models.Content{Type: models.ContentImage, URL: "https://cdn.example/p.jpg"}, true},
		{"image with caption", models.Content{Type: models.ContentImage, URL: "https://cdn.example/p.jpg", Caption: "sunset"}, true},
		{"image missing url", models.Content{Type: models.ContentImage}, false},
		{"file ok", models.Content{Type: models.ContentFile, URL: "https://cdn.example/d.pdf", Name: "d.pdf", Size: 1024}, true},
		{"file missing url", models.Content{Type: models.ContentFile, Name: "d.pdf"}, false},
		{"location ok", models.Content{Type: models.ContentLocation, Lat: 52.52, Lng: 13.405}, true},
		{"location lat out of range", models.Content{Type: models.ContentLocation, Lat: 91, Lng: 0}, false},
		{"location lng out of range", models.Content{Type: models.ContentLocation, Lat: 0, Lng: -181}, false},
		{"missing type", models.Content{}, false},
		{"unknown type", models.Content{Type: "sticker"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validation.ValidateContent(tc.content)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected error")
				}
				if !errors.Is(err, validation.ErrInvalidContent) {
					t.Fatalf("error %v does not wrap ErrInvalidContent", err)
				}
			}
		})
	}
}

func TestSetLimits(t *testing.T) {
	defer validation.SetLimits(validation.Limits{MaxContentBytes: 4 * 1024})

	validation.SetLimits(validation.Limits{MaxContentBytes: 10})
	err := validation.ValidateContent(models.Content{Type: models.ContentText, Text: "this is way past ten bytes"})
	if !errors.Is(err, validation.ErrInvalidContent) {
		t.Fatalf("expected limit violation, got %v", err)
	}
	if err := validation.ValidateContent(models.Content{Type: models.ContentText, Text: "short"}); err != nil {
		t.Fatalf("unexpected error under raised limit: %v", err)
	}
}

func TestValidateParticipant(t *testing.T) {
	ok := models.Participant{UserID: "u1", DisplayName: "User One", Role: models.RolePersonal}
	if err := validation.ValidateParticipant(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	biz := models.Participant{UserID: "u2", DisplayName: "Shop", Role: models.RoleBusiness}
	if err := validation.ValidateParticipant(biz); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []models.Participant{
		{DisplayName: "No ID", Role: models.RolePersonal},
		{UserID: "u3", Role: models.RolePersonal},
		{UserID: "u4", DisplayName: "Weird", Role: "bot"},
	}
	for _, p := range bad {
		if err := validation.ValidateParticipant(p); err == nil {
			t.Fatalf("expected error for %+v", p)
		}
	}
}
