package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".mk2"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// GateConfigFile is the default gate policy file name.
	GateConfigFile = "gate.yaml"
)

// ConfigPath returns the path to the config file, honoring MK2_CONFIG.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("MK2_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("MK2_HOME")); h != "" {
		return expandHome(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, path[1:]), nil
}

// Load reads the config file (if present) and applies MK2_* environment
// overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Each section is processed on its own so its tagged fields read
	// MK2_<TAG> (e.g. MK2_INBOX_CAPACITY) rather than MK2_<SECTION>_<TAG>.
	sections := []any{&cfg.Paths, &cfg.Core, &cfg.Channels.Kafka, &cfg.Channels.Slack, &cfg.Provider, &cfg.Memory}
	for _, section := range sections {
		if err := envconfig.Process("MK2", section); err != nil {
			return nil, fmt.Errorf("apply env overrides: %w", err)
		}
	}

	if cfg.Paths.Home == "" {
		home, err := resolveHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.Paths.Home = filepath.Join(home, ConfigDir)
	}
	if cfg.Paths.GateConfig == "" {
		cfg.Paths.GateConfig = filepath.Join(cfg.Paths.Home, GateConfigFile)
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(cfg.Paths.Home, "memory.db")
	}
	return cfg, nil
}

// EnsureHome creates the config directory when missing.
func EnsureHome(cfg *Config) error {
	if err := os.MkdirAll(cfg.Paths.Home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	return nil
}
