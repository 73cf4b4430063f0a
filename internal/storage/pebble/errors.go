package pebblestore

import (
	"errors"
	"fmt"
)

// ErrClosed is wrapped by faults raised after Close.
var ErrClosed = errors.New("pebble: store closed")

// StorageFault reports a failed commit, scan, checkpoint or open. When a
// commit returns a StorageFault nothing was applied.
type StorageFault struct {
	Op  string
	Key string
	Err error
}

func (e *StorageFault) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage fault: %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage fault: %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// IsStorageFault reports whether err is or wraps a *StorageFault.
func IsStorageFault(err error) bool {
	var sf *StorageFault
	return errors.As(err, &sf)
}
