package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedChat struct {
	Model          string `json:"model"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, content string, got *capturedChat) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIBackendComplete(t *testing.T) {
	var got capturedChat
	srv := newChatServer(t, "  hello back  ", &got)
	b := NewOpenAIBackend("key", srv.URL, Models{Primary: "big", Cheap: "small"})

	text, err := b.Complete(context.Background(), Request{
		Tier: TierCheap,
		JSON: true,
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleAssistant, Content: "earlier"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hello back" {
		t.Fatalf("expected trimmed text, got %q", text)
	}
	if got.Model != "small" {
		t.Fatalf("expected cheap model, got %q", got.Model)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", got.ResponseFormat)
	}
	roles := []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role}
	if roles[0] != "system" || roles[1] != "assistant" || roles[2] != "user" {
		t.Fatalf("unexpected roles: %v", roles)
	}
}

func TestOpenAIBackendEmptyReply(t *testing.T) {
	var got capturedChat
	srv := newChatServer(t, "   ", &got)
	b := NewOpenAIBackend("key", srv.URL, Models{Primary: "big"})

	_, err := b.Complete(context.Background(), Request{Tier: TierPrimary, Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if got.Model != "big" || got.ResponseFormat != nil {
		t.Fatalf("unexpected request: %+v", got)
	}
}
