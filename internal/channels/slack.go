package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/murphys7017/mk2/internal/observation"
)

// SlackConfig configures the Slack egress adapter.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	// ChannelID receives sessions without a mapping of their own.
	ChannelID string `json:"channelId" envconfig:"SLACK_CHANNEL_ID"`
	// SessionChannels maps session keys to Slack channel ids.
	SessionChannels map[string]string `json:"sessionChannels"`
}

// SlackOutput delivers agent messages to Slack channels.
type SlackOutput struct {
	cfg SlackConfig
	api *slack.Client
}

// NewSlackOutput creates a Slack egress adapter.
func NewSlackOutput(cfg SlackConfig) *SlackOutput {
	return &SlackOutput{cfg: cfg, api: slack.New(cfg.BotToken)}
}

// Name returns the adapter name.
func (s *SlackOutput) Name() string { return "slack" }

// Send posts one observation's text to the mapped channel.
func (s *SlackOutput) Send(ctx context.Context, obs *observation.Observation) error {
	text := obs.Text()
	if text == "" && obs.Payload.Control != nil {
		text = fmt.Sprintf("system: %s", obs.Payload.Control.Kind)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	channelID := s.cfg.SessionChannels[obs.SessionKey]
	if channelID == "" {
		channelID = s.cfg.ChannelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel mapped for session %q", obs.SessionKey)
	}

	_, _, err := s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
