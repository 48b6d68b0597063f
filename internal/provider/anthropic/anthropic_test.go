package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"toolhub/internal/provider"
)

func TestChatExtractsSystemAndSetsHeaders(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "claude says hi"}],
			"usage": {"input_tokens": 12, "output_tokens": 34}
		}`)
	}))
	defer srv.Close()

	p := New(srv.URL, "sk-ant-key", srv.Client())
	result, errChat := p.Chat(context.Background(), provider.ChatRequest{
		Model: "claude-test",
		Messages: []provider.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	})
	if errChat != nil {
		t.Fatalf("expected chat ok, got %v", errChat)
	}
	if result.Content != "claude says hi" {
		t.Fatalf("expected content, got %q", result.Content)
	}
	if result.InputTokens != 12 || result.OutputTokens != 34 {
		t.Fatalf("expected usage 12/34, got %d/%d", result.InputTokens, result.OutputTokens)
	}

	if gotKey != "sk-ant-key" {
		t.Fatalf("expected x-api-key header, got %q", gotKey)
	}
	if gotVersion != "2023-06-01" {
		t.Fatalf("expected anthropic-version header, got %q", gotVersion)
	}
	// The system turn rides in its own field, not the messages array.
	if gotBody["system"] != "be terse" {
		t.Fatalf("expected system extracted, got %v", gotBody["system"])
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message after system extraction, got %d", len(messages))
	}
	// max_tokens is required by the API and must be defaulted.
	if gotBody["max_tokens"].(float64) != float64(defaultMaxTokens) {
		t.Fatalf("expected default max_tokens, got %v", gotBody["max_tokens"])
	}
}

func TestListModelsReturnsCuratedSet(t *testing.T) {
	p := New("", "sk-ant-key", nil)
	models, errList := p.ListModels(context.Background())
	if errList != nil {
		t.Fatalf("expected curated list ok, got %v", errList)
	}
	if len(models) == 0 {
		t.Fatalf("expected non-empty curated model list")
	}
	for _, m := range models {
		if m.ID == "" {
			t.Fatalf("expected model ids, got %+v", models)
		}
	}
}
