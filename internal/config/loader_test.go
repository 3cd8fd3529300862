package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("MK2_HOME", t.TempDir())
	t.Setenv("MK2_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Core.BusCapacity != 1000 || cfg.Core.InboxCapacity != 256 {
		t.Errorf("core defaults = %+v", cfg.Core)
	}
	if cfg.Core.SystemSessionKey != "system" {
		t.Errorf("system session = %s", cfg.Core.SystemSessionKey)
	}
	if cfg.Paths.GateConfig == "" || cfg.Memory.DBPath == "" {
		t.Errorf("paths not derived: %+v", cfg.Paths)
	}
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"core": {"busCapacity": 50}, "channels": {"kafka": {"enabled": true, "brokers": "localhost:9092"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MK2_CONFIG", path)
	t.Setenv("MK2_HOME", dir)
	t.Setenv("MK2_INBOX_CAPACITY", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Core.BusCapacity != 50 {
		t.Errorf("bus capacity = %d, want 50 from file", cfg.Core.BusCapacity)
	}
	if cfg.Core.InboxCapacity != 64 {
		t.Errorf("inbox capacity = %d, want 64 from env", cfg.Core.InboxCapacity)
	}
	if !cfg.Channels.Kafka.Enabled || cfg.Channels.Kafka.Brokers != "localhost:9092" {
		t.Errorf("kafka config = %+v", cfg.Channels.Kafka)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte("{nope"), 0o644)
	t.Setenv("MK2_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
