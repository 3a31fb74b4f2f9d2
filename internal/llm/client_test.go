package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	MaxTokens        int     `json:"max_tokens"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

func completionBody(finish, content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": finish,
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{Endpoint: url + "/", APIKey: "test-key", Model: "test-model"}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer test-key, got %q", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens != 4000 {
			t.Errorf("expected max_tokens 4000, got %d", req.MaxTokens)
		}
		if req.TopP != 0.95 {
			t.Errorf("expected top_p 0.95, got %f", req.TopP)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("stop", "  Hello world .  "))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	turns := []Turn{{Role: RoleSystem, Text: "you are a test"}, {Role: RoleUser, Text: "hello"}}

	comp, err := c.Complete(context.Background(), turns, Sampling{MaxTokens: 4000, TopP: 0.95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Text != "Hello world." {
		t.Errorf("expected cleaned text, got %q", comp.Text)
	}
	if comp.FinishReason != FinishStop {
		t.Errorf("expected finish stop, got %q", comp.FinishReason)
	}
	if comp.Usage.TotalTokens != 17 {
		t.Errorf("expected 17 total tokens, got %d", comp.Usage.TotalTokens)
	}
}

func TestComplete_FinishReasons(t *testing.T) {
	for _, tc := range []struct {
		wire string
		want FinishReason
	}{
		{"stop", FinishStop},
		{"length", FinishLength},
		{"content_filter", FinishOther},
	} {
		t.Run(tc.wire, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(completionBody(tc.wire, "x"))
			}))
			defer server.Close()

			comp, err := newTestClient(t, server.URL).Complete(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}}, Sampling{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if comp.FinishReason != tc.want {
				t.Errorf("expected %q, got %q", tc.want, comp.FinishReason)
			}
		})
	}
}

func TestComplete_APIErrorIsUpstream(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit", "message": "slow down"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Complete(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}}, Sampling{})
	if err == nil {
		t.Fatal("expected error for API error response")
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upstream.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", upstream.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 request (no retries), got %d", calls.Load())
	}
}

func TestComplete_UnreachableIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).Complete(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}}, Sampling{})
	if !IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := completionBody("stop", "")
		body["choices"] = []any{}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Complete(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}}, Sampling{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewClient_RequiresKeyAndModel(t *testing.T) {
	if _, err := NewClient(Config{Model: "m"}, discardLogger()); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewClient(Config{APIKey: "k"}, discardLogger()); err == nil {
		t.Error("expected error without model")
	}
}

func TestCleanText(t *testing.T) {
	if got := CleanText("\n Done .\n"); got != "Done." {
		t.Errorf("expected %q, got %q", "Done.", got)
	}
}
