package channels

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/murphys7017/mk2/internal/observation"
)

// ConsoleOutput prints delivered observations to the terminal. It is the
// default egress adapter in the local run mode.
type ConsoleOutput struct {
	Out io.Writer
}

// NewConsoleOutput creates a console egress adapter.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{Out: os.Stdout}
}

// Name returns the adapter name.
func (c *ConsoleOutput) Name() string { return "console" }

// Send prints one observation.
func (c *ConsoleOutput) Send(ctx context.Context, obs *observation.Observation) error {
	switch {
	case obs.Type == observation.TypeMessage && obs.Payload.Message != nil:
		prefix := color.New(color.FgCyan).Sprintf("[%s]", obs.SessionKey)
		_, err := fmt.Fprintf(c.Out, "%s %s\n", prefix, obs.Payload.Message.Text)
		return err
	case obs.Type == observation.TypeControl && obs.Payload.Control != nil:
		prefix := color.New(color.FgYellow).Sprint("[control]")
		_, err := fmt.Fprintf(c.Out, "%s %s\n", prefix, obs.Payload.Control.Kind)
		return err
	default:
		_, err := fmt.Fprintf(c.Out, "[%s] %s\n", obs.SessionKey, obs.Type)
		return err
	}
}
