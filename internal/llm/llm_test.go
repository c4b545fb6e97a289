package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestParseModel(t *testing.T) {
	provider, model, err := ParseModel("anthropic/claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("ParseModel() error = %v", err)
	}
	if provider != "anthropic" || model != "claude-sonnet-4-5" {
		t.Fatalf("ParseModel() = (%q, %q)", provider, model)
	}
	for _, bad := range []string{"gpt-4o", "/x", "openai/", ""} {
		if _, _, err := ParseModel(bad); err == nil {
			t.Fatalf("ParseModel(%q) error = nil, want error", bad)
		}
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	if _, err := NewClient("cohere", "k", "m"); err == nil {
		t.Fatalf("NewClient(cohere) error = nil, want error")
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-key") {
			t.Errorf("Authorization = %q, want test-key", auth)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 123,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "  summary text  "},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "summarize"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "summary text" {
		t.Fatalf("Complete() = %q, want trimmed text", got)
	}
}

func TestStatusCodeFromOpenAIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	client, _ := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err == nil {
		t.Fatalf("Complete() error = nil, want rate limit error")
	}
	if got := StatusCode(err); got != http.StatusTooManyRequests {
		t.Fatalf("StatusCode() = %d, want 429", got)
	}
}

func TestAnthropicCompleteSeparatesSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			Model     string `json:"model"`
			MaxTokens int64  `json:"max_tokens"`
			System    []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.MaxTokens != 4096 {
			t.Errorf("max_tokens = %d, want 4096", req.MaxTokens)
		}
		if len(req.System) != 1 || req.System[0].Text != "be concise" {
			t.Errorf("system = %#v, want top-level system prompt", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %#v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-sonnet-4-5",
			"content":       []map[string]any{{"type": "text", "text": " key "}, {"type": "text", "text": "points"}},
			"stop_reason":   "end_turn",
			"stop_sequence": "",
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 2},
		})
	}))
	defer server.Close()

	client, err := NewClient("anthropic", "test-key", "claude-sonnet-4-5", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "key points" {
		t.Fatalf("Complete() = %q, want %q", got, "key points")
	}
}

func TestAnthropicDoesNotRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client, _ := NewClient("anthropic", "test-key", "claude-sonnet-4-5", WithBaseURL(server.URL))
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err == nil {
		t.Fatalf("Complete() error = nil, want error")
	}
	if calls != 1 {
		t.Fatalf("server calls = %d, want 1", calls)
	}
	if got := StatusCode(err); got != http.StatusTooManyRequests {
		t.Fatalf("StatusCode() = %d, want 429", got)
	}
}

func TestConvertGeminiMessages(t *testing.T) {
	system, contents := convertGeminiMessages([]Message{
		{Role: "system", Content: "policy"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})
	if system == nil || system.Parts[0].Text != "policy" {
		t.Fatalf("unexpected system instruction: %#v", system)
	}
	if len(contents) != 2 || contents[1].Role != "model" {
		t.Fatalf("unexpected contents: %#v", contents)
	}
}

func TestStatusCodeUnwrapsGeminiAndPlainErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), genai.APIError{Code: 503})
	if got := StatusCode(wrapped); got != 503 {
		t.Fatalf("StatusCode(gemini) = %d, want 503", got)
	}
	if got := StatusCode(errors.New("dial tcp: refused")); got != 0 {
		t.Fatalf("StatusCode(plain) = %d, want 0", got)
	}
	if got := StatusCode(nil); got != 0 {
		t.Fatalf("StatusCode(nil) = %d, want 0", got)
	}
}
