// Package provider implements LLM provider interfaces and clients.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// LLMProvider is the interface for LLM API clients. Calls may block on the
// network; the core never invokes them on the event path directly.
type LLMProvider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResolveSecret expands "<ENV_VAR>" placeholders from the environment. An
// unset placeholder fails fast: a half-configured provider must not reach
// the dispatch loop.
func ResolveSecret(value string) (string, error) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "<") || !strings.HasSuffix(v, ">") {
		return v, nil
	}
	name := strings.TrimSuffix(strings.TrimPrefix(v, "<"), ">")
	resolved, ok := os.LookupEnv(name)
	if !ok || resolved == "" {
		return "", fmt.Errorf("secret env var %s is not set", name)
	}
	return resolved, nil
}
