package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Value encodings for the in-memory index.
const (
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
	EncodingZstd     = "zstd"
)

// Ciphers for at-rest value encryption.
const (
	CipherNone              = "none"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"
)

// Config is the top-level configuration loaded from file/env. It is consumed
// once at construction; nothing re-reads it while the server runs.
type Config struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`

	EnableAuth bool   `json:"enableAuth" yaml:"enableAuth"`
	APIKey     string `json:"apiKey" yaml:"apiKey"`

	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Index         IndexConfig         `json:"index" yaml:"index"`
	Subscriptions SubscriptionsConfig `json:"subscriptions" yaml:"subscriptions"`
	Backup        BackupConfig        `json:"backup" yaml:"backup"`

	RequestTimeoutMs int64 `json:"requestTimeoutMs" yaml:"requestTimeoutMs"`

	Log LogConfig `json:"log" yaml:"log"`
}

// StorageConfig tunes the durable store.
type StorageConfig struct {
	// Fsync is one of always|interval|never.
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int64  `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	// CacheSizeBytes bounds the engine block cache, independent of the index.
	CacheSizeBytes int64 `json:"cacheSizeBytes" yaml:"cacheSizeBytes"`
	// Cipher is none or xchacha20-poly1305.
	Cipher string `json:"cipher" yaml:"cipher"`
	// CipherKey is 64 hex characters (32 bytes).
	CipherKey string `json:"cipherKey" yaml:"cipherKey"`
	// CipherIV is the 64-bit basic IV mixed into every nonce.
	CipherIV uint64 `json:"cipherIV" yaml:"cipherIV"`
}

// IndexConfig selects how values are held in memory.
type IndexConfig struct {
	ValueEncoding string `json:"valueEncoding" yaml:"valueEncoding"`
}

// SubscriptionsConfig tunes change feed delivery.
type SubscriptionsConfig struct {
	// Buffer is the per-subscriber outbound queue length.
	Buffer int `json:"buffer" yaml:"buffer"`
	// FlushMs coalesces writes to a subscriber for up to this window.
	FlushMs int64 `json:"flushMs" yaml:"flushMs"`
}

// BackupConfig drives the periodic backup job.
type BackupConfig struct {
	IntervalMs int64 `json:"intervalMs" yaml:"intervalMs"`
	// Dest is an optional remote destination, gs://bucket/prefix or
	// file:///path. Empty keeps archives local only.
	Dest string `json:"dest" yaml:"dest"`
	// Endpoint overrides the GCS JSON API endpoint, for emulators. It is only
	// valid with a gs:// Dest. Requests to a custom endpoint are
	// unauthenticated.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Dir overrides the local archive directory (default <dataDir>/backups).
	Dir string `json:"dir" yaml:"dir"`
}

// LogConfig mirrors pkg/log.Config fields that are user facing.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:  "./db",
		HTTPAddr: ":9090",
		GRPCAddr: ":50051",
		Storage: StorageConfig{
			Fsync:           "always",
			FsyncIntervalMs: 5,
			CacheSizeBytes:  64 << 20,
			Cipher:          CipherNone,
		},
		Index:            IndexConfig{ValueEncoding: EncodingGzip},
		Subscriptions:    SubscriptionsConfig{Buffer: 1024},
		Backup:           BackupConfig{IntervalMs: (24 * time.Hour).Milliseconds()},
		RequestTimeoutMs: 5000,
		Log:              LogConfig{Level: "info", Format: "text"},
	}
}

// BackupInterval returns the configured interval as a duration.
func (c Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalMs) * time.Millisecond
}

// BackupDir returns the local archive directory.
func (c Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

// RequestTimeout returns the transport request timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
