package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// ConfigurationFault reports a configuration problem detected at startup.
// It is fatal: the process must not begin serving.
type ConfigurationFault struct {
	Field  string
	Reason string
}

func (e *ConfigurationFault) Error() string {
	return fmt.Sprintf("configuration fault: %s: %s", e.Field, e.Reason)
}

func fault(field, format string, args ...any) error {
	return &ConfigurationFault{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks cfg and returns the first *ConfigurationFault found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fault("dataDir", "must not be empty")
	}
	if isFile(c.DataDir) {
		return fault("dataDir", "%s exists and is not a directory", c.DataDir)
	}
	switch c.Storage.Fsync {
	case "always", "interval", "never":
	default:
		return fault("storage.fsync", "%q; use always|interval|never", c.Storage.Fsync)
	}
	if c.Storage.CacheSizeBytes < 0 {
		return fault("storage.cacheSizeBytes", "must be >= 0")
	}
	switch c.Storage.Cipher {
	case CipherNone, "":
		if c.Storage.CipherKey != "" {
			return fault("storage.cipherKey", "set while cipher is %q; choose %s or drop the key", CipherNone, CipherXChaCha20Poly1305)
		}
	case CipherXChaCha20Poly1305:
		if _, err := CipherKeyBytes(c.Storage.CipherKey); err != nil {
			return fault("storage.cipherKey", "%v", err)
		}
	default:
		return fault("storage.cipher", "unknown cipher %q", c.Storage.Cipher)
	}
	switch c.Index.ValueEncoding {
	case EncodingIdentity, EncodingGzip, EncodingZstd:
	default:
		return fault("index.valueEncoding", "%q; use identity|gzip|zstd", c.Index.ValueEncoding)
	}
	if c.Subscriptions.Buffer <= 0 {
		return fault("subscriptions.buffer", "must be > 0")
	}
	if c.Backup.IntervalMs <= 0 {
		return fault("backup.intervalMs", "must be > 0")
	}
	if d := c.Backup.Dest; d != "" && !strings.HasPrefix(d, "gs://") && !strings.HasPrefix(d, "file://") {
		return fault("backup.dest", "%q; use gs://bucket[/prefix] or file:///path", d)
	}
	if c.Backup.Endpoint != "" && !strings.HasPrefix(c.Backup.Dest, "gs://") {
		return fault("backup.endpoint", "%q needs a gs:// backup.dest; S3 endpoints are not supported", c.Backup.Endpoint)
	}
	if c.EnableAuth && c.APIKey == "" {
		return fault("apiKey", "required when enableAuth is set")
	}
	return nil
}

// CipherKeyBytes decodes a 64 hex character key.
func CipherKeyBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("required when encryption is enabled")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	return b, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
