package config

import (
	"os"
	"strconv"
)

// FromEnv overlays KVDB_* environment variables onto cfg. The lower-case
// names understood by earlier deployments (port, enable_auth, api_key,
// cipher_key, cipher_iv, backup_delay) are honoured too; the KVDB_* form
// wins when both are set. A legacy s3_endpoint is carried into
// Backup.Endpoint only so Validate can reject it: there is no S3 uploader.
func FromEnv(cfg *Config) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}
	boolean := func(dst *bool, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				if b, err := strconv.ParseBool(v); err == nil {
					*dst = b
				}
			}
		}
	}
	i64 := func(dst *int64, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					*dst = n
				}
			}
		}
	}

	str(&cfg.DataDir, "KVDB_DATA_DIR")
	if v := os.Getenv("port"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.HTTPAddr = ":" + v
		}
	}
	str(&cfg.HTTPAddr, "KVDB_HTTP_ADDR")
	str(&cfg.GRPCAddr, "KVDB_GRPC_ADDR")
	boolean(&cfg.EnableAuth, "enable_auth", "KVDB_ENABLE_AUTH")
	str(&cfg.APIKey, "api_key", "KVDB_API_KEY")

	str(&cfg.Storage.Fsync, "KVDB_FSYNC")
	i64(&cfg.Storage.FsyncIntervalMs, "KVDB_FSYNC_INTERVAL_MS")
	i64(&cfg.Storage.CacheSizeBytes, "KVDB_CACHE_SIZE_BYTES")
	str(&cfg.Storage.Cipher, "KVDB_CIPHER")
	str(&cfg.Storage.CipherKey, "cipher_key", "KVDB_CIPHER_KEY")
	for _, k := range []string{"cipher_iv", "KVDB_CIPHER_IV"} {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Storage.CipherIV = uint64(n)
			} else if u, err := strconv.ParseUint(v, 10, 64); err == nil {
				cfg.Storage.CipherIV = u
			}
		}
	}

	str(&cfg.Index.ValueEncoding, "KVDB_VALUE_ENCODING")

	if v := os.Getenv("KVDB_SUB_BUF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Subscriptions.Buffer = n
		}
	}
	i64(&cfg.Subscriptions.FlushMs, "KVDB_SUB_FLUSH_MS")

	i64(&cfg.Backup.IntervalMs, "backup_delay", "KVDB_BACKUP_INTERVAL_MS")
	str(&cfg.Backup.Dest, "KVDB_BACKUP_DEST")
	str(&cfg.Backup.Endpoint, "s3_endpoint", "KVDB_BACKUP_ENDPOINT")
	str(&cfg.Backup.Dir, "KVDB_BACKUP_DIR")

	i64(&cfg.RequestTimeoutMs, "KVDB_REQUEST_TIMEOUT_MS")
	str(&cfg.Log.Level, "KVDB_LOG_LEVEL")
	str(&cfg.Log.Format, "KVDB_LOG_FORMAT")
}
