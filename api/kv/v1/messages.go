package kvv1

import "encoding/json"

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type GetBatchRequest struct {
	Keys []string `json:"keys"`
}

// GetBatchResponse maps every requested key to its value, "" when absent.
type GetBatchResponse struct {
	Values map[string]string `json:"values"`
}

// RangeRequest selects keys in [From, To). An empty bound is open.
type RangeRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RangeResponse struct {
	Entries []Entry `json:"entries"`
}

type PutRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PutResponse struct{}

type DeleteRequest struct {
	Key string `json:"key"`
}

type DeleteResponse struct {
	Previous string `json:"previous"`
	Existed  bool   `json:"existed"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Stats map[string]any `json:"stats"`
}

type BackupRequest struct{}

type BackupResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Kept     bool   `json:"kept"`

	// UploadError is set when the archive was written but the upload failed.
	UploadError string `json:"upload_error,omitempty"`
}

// WatchRequest opens a change feed. Filter is an optional CEL expression.
type WatchRequest struct {
	Filter string `json:"filter,omitempty"`
}

// WatchEvent carries one encoded change event, the same bytes the HTTP
// feeds deliver.
type WatchEvent struct {
	Event json.RawMessage `json:"event"`
}
