package storage

import (
	"testing"

	"film-ai-api/internal/domain/entity"
)

func TestObjectKey(t *testing.T) {
	p := &entity.Project{ID: "p1", Title: "The Long Night!"}
	got := ObjectKey(p, &entity.Scene{SceneNumber: 7}, ".png")
	if got != "storyboards/the-long-night-p1/scene-007.png" {
		t.Fatalf("unexpected key %q", got)
	}

	p.Title = "!!!"
	if got := ObjectKey(p, &entity.Scene{SceneNumber: 12}, ".jpg"); got != "storyboards/p1/scene-012.jpg" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, ct, err := DecodeDataURL("data:image/jpeg;base64,QUJD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "ABC" || ct != "image/jpeg" {
		t.Fatalf("unexpected result %q %q", data, ct)
	}
	if extensionFor(ct) != ".jpg" {
		t.Fatalf("unexpected extension for %s", ct)
	}

	if _, _, err := DecodeDataURL("data:image/png,plain"); err == nil {
		t.Fatalf("expected error for non-base64 data url")
	}
	if _, _, err := DecodeDataURL("data:image/png;base64"); err == nil {
		t.Fatalf("expected error for malformed data url")
	}
}
