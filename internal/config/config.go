// Package config provides configuration types and loading for mk2.
package config

import (
	"time"

	"github.com/murphys7017/mk2/internal/channels"
)

// Config is the root configuration struct.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Core     CoreConfig     `json:"core"`
	Channels ChannelsConfig `json:"channels"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	Home       string `json:"home" envconfig:"HOME_DIR"`
	GateConfig string `json:"gateConfig" envconfig:"GATE_CONFIG"`
}

// CoreConfig tunes the dispatch engine.
type CoreConfig struct {
	BusCapacity      int     `json:"busCapacity" envconfig:"BUS_CAPACITY"`
	InboxCapacity    int     `json:"inboxCapacity" envconfig:"INBOX_CAPACITY"`
	SystemSessionKey string  `json:"systemSessionKey"`
	EnableSessionGC  bool    `json:"enableSessionGc"`
	IdleTTLSeconds   float64 `json:"idleTtlSeconds" envconfig:"IDLE_TTL_SECONDS"`
	SweepSeconds     float64 `json:"sweepSeconds"`
	MinSessionsToGC  int     `json:"minSessionsToGc"`
	EnableFanout     bool    `json:"enableFanout"`
	TickSeconds      float64 `json:"tickSeconds" envconfig:"TICK_SECONDS"`
}

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Kafka channels.KafkaConfig `json:"kafka"`
	Slack channels.SlackConfig `json:"slack"`
}

// ProviderConfig configures the LLM provider. APIKey may be an "<ENV_VAR>"
// placeholder resolved at startup.
type ProviderConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"PROVIDER_ENABLED"`
	APIKey    string `json:"apiKey" envconfig:"PROVIDER_API_KEY"`
	APIBase   string `json:"apiBase" envconfig:"PROVIDER_API_BASE"`
	LowModel  string `json:"lowModel" envconfig:"PROVIDER_LOW_MODEL"`
	HighModel string `json:"highModel" envconfig:"PROVIDER_HIGH_MODEL"`
}

// MemoryConfig configures the event/turn store.
type MemoryConfig struct {
	Enabled bool   `json:"enabled" envconfig:"MEMORY_ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"MEMORY_DB_PATH"`
}

// IdleTTL returns the GC idle TTL as a duration.
func (c CoreConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLSeconds * float64(time.Second))
}

// SweepInterval returns the GC sweep interval as a duration.
func (c CoreConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds * float64(time.Second))
}

// TickInterval returns the heartbeat interval as a duration.
func (c CoreConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds * float64(time.Second))
}

// Default returns the shipped configuration.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			BusCapacity:      1000,
			InboxCapacity:    256,
			SystemSessionKey: "system",
			EnableSessionGC:  true,
			IdleTTLSeconds:   600,
			SweepSeconds:     30,
			MinSessionsToGC:  1,
			TickSeconds:      10,
		},
		Memory: MemoryConfig{Enabled: true},
	}
}
