package transports

import "context"

// Entry is one key/value pair of a range read.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BackupResult reports an on-demand backup.
type BackupResult struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Kept     bool   `json:"kept"`

	// UploadError is set when the archive was kept after a failed upload.
	UploadError string `json:"upload_error,omitempty"`
}

// KVTransport abstracts the transport used by the CLI (gRPC/HTTP).
type KVTransport interface {
	// Get returns the value of key and whether it exists. The HTTP API
	// does not distinguish a missing key from an empty value, so over HTTP
	// found is value != "".
	Get(ctx context.Context, key string) (value string, found bool, err error)
	GetBatch(ctx context.Context, keys []string) (map[string]string, error)
	Range(ctx context.Context, from, to string) ([]Entry, error)
	Put(ctx context.Context, key, value string) error
	// Delete removes key and returns its previous value.
	Delete(ctx context.Context, key string) (string, error)
	Stats(ctx context.Context) (map[string]any, error)
	Backup(ctx context.Context) (BackupResult, error)
	Health(ctx context.Context) error
	// Watch streams encoded change events to onEvent until ctx is done or
	// onEvent returns an error.
	Watch(ctx context.Context, filter string, onEvent func(event []byte) error) error
}
