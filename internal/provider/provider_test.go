package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestResolveSecretPassthrough(t *testing.T) {
	got, err := ResolveSecret("sk-plain")
	if err != nil || got != "sk-plain" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestResolveSecretFromEnv(t *testing.T) {
	t.Setenv("MK2_TEST_KEY", "resolved")
	got, err := ResolveSecret("<MK2_TEST_KEY>")
	if err != nil || got != "resolved" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestResolveSecretFailsFastWhenUnset(t *testing.T) {
	os.Unsetenv("MK2_MISSING_KEY")
	if _, err := ResolveSecret("<MK2_MISSING_KEY>"); err == nil {
		t.Fatal("expected fail-fast error for unset secret")
	}
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "pong"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"total_tokens": 5},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider("sk-test", server.URL, "test-model")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "pong" || resp.Usage.TotalTokens != 5 {
		t.Errorf("response = %+v", resp)
	}
}

// TestLiveProviderChat talks to a real endpoint. Off by default; enable with
// MK2_LIVE_PROVIDER_TESTS=1 plus MK2_PROVIDER_API_KEY/MK2_PROVIDER_API_BASE.
func TestLiveProviderChat(t *testing.T) {
	if os.Getenv("MK2_LIVE_PROVIDER_TESTS") == "" {
		t.Skip("set MK2_LIVE_PROVIDER_TESTS=1 to run live provider tests")
	}
	p, err := NewOpenAIProvider(os.Getenv("MK2_PROVIDER_API_KEY"), os.Getenv("MK2_PROVIDER_API_BASE"), "")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{{Role: "user", Content: "Reply with the single word: pong"}},
		MaxTokens: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Error("empty live response")
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("sk-test", server.URL, "test-model")
	if _, err := p.Chat(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected API error")
	}
}
