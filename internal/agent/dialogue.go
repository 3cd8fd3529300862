package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/murphys7017/mk2/internal/gate"
	"github.com/murphys7017/mk2/internal/observation"
	"github.com/murphys7017/mk2/internal/provider"
)

// DialogueAgent answers user messages through an LLM provider. The provider
// call runs with the hint's time budget as its deadline so a slow model
// head-of-line blocks only its own session.
type DialogueAgent struct {
	ID       string
	Provider provider.LLMProvider

	// Models per gate tier; empty falls back to the provider default.
	LowModel  string
	HighModel string

	SystemPrompt string
}

// NewDialogueAgent creates a dialogue handler over a provider.
func NewDialogueAgent(p provider.LLMProvider) *DialogueAgent {
	return &DialogueAgent{
		ID:           "dialogue",
		Provider:     p,
		SystemPrompt: "You are a concise assistant inside an event dispatch system. Answer the user's latest message using the recent context.",
	}
}

// Handle builds a compact prompt from the session's recent observations and
// returns a single agent-sourced reply.
func (a *DialogueAgent) Handle(ctx context.Context, req *Request) (*Result, error) {
	if req.Obs.Type != observation.TypeMessage {
		return &Result{}, nil
	}

	budget := req.Hint.Budget
	timeout := time.Duration(budget.TimeMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := []provider.Message{{Role: "system", Content: a.SystemPrompt}}
	if req.SessionState != nil {
		for _, prev := range req.SessionState.Recent() {
			if prev.Type != observation.TypeMessage || prev.ObsID == req.Obs.ObsID {
				continue
			}
			role := "user"
			if prev.AgentSourced() {
				role = "assistant"
			}
			if text := prev.Text(); text != "" {
				messages = append(messages, provider.Message{Role: role, Content: text})
			}
		}
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Obs.Text()})

	resp, err := a.Provider.Chat(callCtx, &provider.ChatRequest{
		Messages:    messages,
		Model:       a.modelFor(req.Hint.ModelTier),
		MaxTokens:   budget.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue chat: %w", err)
	}

	slog.Debug("Dialogue agent replied",
		"session", req.Obs.SessionKey,
		"tier", req.Hint.ModelTier,
		"tokens", resp.Usage.TotalTokens)

	return &Result{Emit: []*observation.Observation{NewReply(a.ID, req, resp.Content)}}, nil
}

func (a *DialogueAgent) modelFor(tier string) string {
	switch tier {
	case gate.TierHigh:
		return a.HighModel
	default:
		return a.LowModel
	}
}

// EchoAgent replies with the input text. Used in tests and the local run
// mode when no provider is configured.
type EchoAgent struct {
	ID string
}

// NewEchoAgent creates an echo handler.
func NewEchoAgent() *EchoAgent { return &EchoAgent{ID: "echo"} }

// Handle echoes MESSAGE observations back as agent-sourced replies.
func (a *EchoAgent) Handle(ctx context.Context, req *Request) (*Result, error) {
	if req.Obs.Type != observation.TypeMessage {
		return &Result{}, nil
	}
	return &Result{Emit: []*observation.Observation{NewReply(a.ID, req, req.Obs.Text())}}, nil
}
