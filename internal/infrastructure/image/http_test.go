package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"film-ai-api/internal/config"
	workflowport "film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
)

func TestParseImageURL_Shapes(t *testing.T) {
	cases := map[string]string{
		`{"url":"https://img/1.png"}`:                     "https://img/1.png",
		`{"data":[{"url":"https://img/2.png"}]}`:          "https://img/2.png",
		`{"data":[{"b64_json":"QUJD"}]}`:                  "data:image/png;base64,QUJD",
		`{"images":[{"url":""},{"url":"https://img/3"}]}`: "https://img/3",
	}
	for body, want := range cases {
		got, err := ParseImageURL([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", body, err)
		}
		if got != want {
			t.Fatalf("%s: expected %q, got %q", body, want, got)
		}
	}

	if _, err := ParseImageURL([]byte(`{"data":[]}`)); !errors.Is(err, apperrors.ErrImageGeneration) {
		t.Fatalf("expected image generation error, got %v", err)
	}
}

func TestHTTPBackend_GenerateImage(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img/ok.png"}]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{Image: config.ImageConfig{Endpoint: srv.URL, APIKey: "k", Model: "m"}}
	url, err := NewHTTPBackend(cfg).GenerateImage(context.Background(), "a frame", workflowport.ImageOptions{AspectRatio: "16:9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://img/ok.png" {
		t.Fatalf("unexpected url %q", url)
	}
	if got.Prompt != "a frame" || got.AspectRatio != "16:9" || got.Model != "m" {
		t.Fatalf("unexpected request %+v", got)
	}

	cfg.Image.APIKey = "wrong"
	if _, err := NewHTTPBackend(cfg).GenerateImage(context.Background(), "a frame", workflowport.ImageOptions{}); !errors.Is(err, apperrors.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestHTTPBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	cfg := &config.Config{Image: config.ImageConfig{Endpoint: srv.URL}}
	_, err := NewHTTPBackend(cfg).GenerateImage(context.Background(), "p", workflowport.ImageOptions{})
	if !errors.Is(err, apperrors.ErrImageGeneration) {
		t.Fatalf("expected image generation error, got %v", err)
	}
}
