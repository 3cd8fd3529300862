package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

type fileStamp struct {
	mtimeNs int64
	size    int64
}

// ConfigProvider is the single source of truth for the current immutable
// config snapshot. Readers dereference once per observation; all mutation
// publishes a fresh snapshot through an atomic pointer swap.
type ConfigProvider struct {
	path string
	ref  atomic.Pointer[Config]

	mu        sync.Mutex // serializes reload/update, not reads
	lastStamp *fileStamp
	lastHash  string
}

// NewConfigProvider creates a provider seeded from the given file. A missing
// or invalid file leaves the defaults in place.
func NewConfigProvider(path string) *ConfigProvider {
	p := &ConfigProvider{path: path}
	p.ref.Store(DefaultConfig())
	if path != "" {
		p.ForceReload()
	}
	return p
}

// Snapshot returns the current config reference. O(1), no lock contention.
func (p *ConfigProvider) Snapshot() *Config {
	return p.ref.Load()
}

// ReloadIfChanged reloads when the file changed. Change detection is
// (mtime_ns, size) with a content-hash fallback for filesystems that round
// mtime to coarse granularity. Returns whether a new snapshot was published.
func (p *ConfigProvider) ReloadIfChanged() bool {
	if p.path == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp := p.fileStamp()
	if stamp == nil {
		return false
	}
	if p.lastStamp != nil && *stamp == *p.lastStamp {
		hash := p.fileHash()
		if hash == "" || hash == p.lastHash {
			return false
		}
	}
	return p.reloadLocked()
}

// ForceReload reloads unconditionally. On parse failure the previous
// snapshot stays published.
func (p *ConfigProvider) ForceReload() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadLocked()
}

func (p *ConfigProvider) reloadLocked() bool {
	cfg, err := LoadYAML(p.path)
	if err != nil {
		slog.Warn("Gate config reload failed, keeping previous snapshot", "path", p.path, "error", err)
		return false
	}
	p.ref.Store(cfg)
	p.lastStamp = p.fileStamp()
	p.lastHash = p.fileHash()
	slog.Info("Gate config reloaded", "path", p.path)
	return true
}

// UpdateOverrides publishes a new snapshot with the patch applied. Returns
// whether the snapshot actually changed.
func (p *ConfigProvider) UpdateOverrides(patch OverridePatch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.ref.Load()
	updated := current.WithOverrides(patch)
	if updated == current {
		return false
	}
	p.ref.Store(updated)
	return true
}

func (p *ConfigProvider) fileStamp() *fileStamp {
	info, err := os.Stat(p.path)
	if err != nil {
		slog.Warn("Gate config stat failed", "path", p.path, "error", err)
		return nil
	}
	return &fileStamp{mtimeNs: info.ModTime().UnixNano(), size: info.Size()}
}

func (p *ConfigProvider) fileHash() string {
	data, err := os.ReadFile(p.path)
	if err != nil {
		slog.Warn("Gate config hash failed", "path", p.path, "error", err)
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
