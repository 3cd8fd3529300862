package channels

import (
	"context"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/observation"
)

// TextInput is the programmatic ingress: callers hand it raw text and it
// publishes MESSAGE observations. The CLI run mode and tests feed it.
type TextInput struct {
	BaseChannel
	running bool
}

// NewTextInput creates a text ingress adapter.
func NewTextInput(b *bus.InputBus, cooldown CooldownFunc) *TextInput {
	return &TextInput{BaseChannel: NewBaseChannel("text_input", b, cooldown)}
}

// Name returns the channel name.
func (t *TextInput) Name() string { return "text_input" }

// Start marks the adapter online.
func (t *TextInput) Start(ctx context.Context) error {
	t.running = true
	return nil
}

// Stop marks the adapter offline.
func (t *TextInput) Stop() error {
	t.running = false
	return nil
}

// Submit publishes one user message. A missing session key is derived by the
// router from the actor.
func (t *TextInput) Submit(sessionKey, actorID, text string) {
	if !t.running {
		return
	}
	obs := observation.NewMessage(t.Name(), sessionKey, actorID, text)
	t.Emit(obs)
}
