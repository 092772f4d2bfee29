package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedContent struct {
	Role  string `json:"role"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type capturedGenerate struct {
	path              string
	Contents          []capturedContent `json:"contents"`
	SystemInstruction *capturedContent  `json:"systemInstruction"`
	GenerationConfig  *struct {
		ResponseMIMEType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

func newGenerateServer(t *testing.T, candidates []map[string]any, got *capturedGenerate) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": candidates})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func textCandidate(text string) []map[string]any {
	return []map[string]any{{
		"content": map[string]any{
			"role":  "model",
			"parts": []map[string]string{{"text": text}},
		},
		"finishReason": "STOP",
	}}
}

func TestGeminiBackendComplete(t *testing.T) {
	var got capturedGenerate
	srv := newGenerateServer(t, textCandidate("  hello back  "), &got)
	b, err := NewGeminiBackend(context.Background(), "key", srv.URL, Models{Primary: "big", Cheap: "small"})
	if err != nil {
		t.Fatalf("NewGeminiBackend failed: %v", err)
	}

	text, err := b.Complete(context.Background(), Request{
		Tier: TierCheap,
		JSON: true,
		Messages: []Message{
			{Role: RoleSystem, Content: "be nice"},
			{Role: RoleSystem, Content: "be brief"},
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
	if !strings.HasSuffix(got.path, "models/small:generateContent") {
		t.Fatalf("expected cheap model in path, got %q", got.path)
	}
	if got.SystemInstruction == nil || len(got.SystemInstruction.Parts) != 1 ||
		got.SystemInstruction.Parts[0].Text != "be nice\n\nbe brief" {
		t.Fatalf("expected merged system instruction, got %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 2 || got.Contents[0].Role != "model" || got.Contents[1].Role != "user" {
		t.Fatalf("unexpected contents: %+v", got.Contents)
	}
	if got.Contents[0].Parts[0].Text != "earlier" || got.Contents[1].Parts[0].Text != "hi" {
		t.Fatalf("unexpected content text: %+v", got.Contents)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("expected JSON response MIME type, got %+v", got.GenerationConfig)
	}
}

func TestGeminiBackendPlainText(t *testing.T) {
	var got capturedGenerate
	srv := newGenerateServer(t, textCandidate("ok"), &got)
	b, err := NewGeminiBackend(context.Background(), "key", srv.URL, Models{Primary: "big", Cheap: "small"})
	if err != nil {
		t.Fatalf("NewGeminiBackend failed: %v", err)
	}

	if _, err := b.Complete(context.Background(), Request{Tier: TierPrimary, Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.HasSuffix(got.path, "models/big:generateContent") {
		t.Fatalf("expected primary model in path, got %q", got.path)
	}
	if got.SystemInstruction != nil {
		t.Fatalf("expected no system instruction, got %+v", got.SystemInstruction)
	}
	if got.GenerationConfig != nil && got.GenerationConfig.ResponseMIMEType != "" {
		t.Fatalf("expected no response MIME type, got %q", got.GenerationConfig.ResponseMIMEType)
	}
}

func TestGeminiBackendEmptyCandidates(t *testing.T) {
	for name, candidates := range map[string][]map[string]any{
		"none":  {},
		"blank": textCandidate("   "),
	} {
		var got capturedGenerate
		srv := newGenerateServer(t, candidates, &got)
		b, err := NewGeminiBackend(context.Background(), "key", srv.URL, Models{Primary: "big"})
		if err != nil {
			t.Fatalf("NewGeminiBackend failed: %v", err)
		}

		_, err = b.Complete(context.Background(), Request{Tier: TierPrimary, Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("%s: expected ErrEmptyResponse, got %v", name, err)
		}
	}
}
