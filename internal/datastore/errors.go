package datastore

import (
	"errors"

	pebblestore "github.com/rzbill/kvdb/internal/storage/pebble"
)

// StorageFault is returned when the durable store rejects a mutation. The
// index and subscribers are untouched when it is returned.
type StorageFault = pebblestore.StorageFault

var (
	// ErrInvalidKey rejects an empty key.
	ErrInvalidKey = errors.New("datastore: key must not be empty")
	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("datastore: closed")
	// ErrBackupUnavailable is returned by TakeBackup when no backup
	// coordinator is configured.
	ErrBackupUnavailable = errors.New("datastore: backups not configured")
)

// IsStorageFault reports whether err is or wraps a StorageFault.
func IsStorageFault(err error) bool { return pebblestore.IsStorageFault(err) }
