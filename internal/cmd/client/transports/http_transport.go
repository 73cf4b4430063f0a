package transports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// HTTPTransport implements KVTransport over the REST API.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL, e.g.
// http://127.0.0.1:9090. client may be nil.
func NewHTTPTransport(baseURL, apiKey string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Message) }

func (t *HTTPTransport) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
}

func keyPath(key string) string { return "/kv/v1/" + url.PathEscape(key) }

func (t *HTTPTransport) Get(ctx context.Context, key string) (string, bool, error) {
	var out map[string]string
	if err := t.do(ctx, http.MethodGet, keyPath(key), nil, &out); err != nil {
		return "", false, err
	}
	v := out[key]
	return v, v != "", nil
}

func (t *HTTPTransport) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	var out map[string]string
	q := url.Values{"keys": {strings.Join(keys, ",")}}
	err := t.do(ctx, http.MethodGet, "/kv/v1/batch?"+q.Encode(), nil, &out)
	return out, err
}

func (t *HTTPTransport) Range(ctx context.Context, from, to string) ([]Entry, error) {
	var out map[string]string
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if err := t.do(ctx, http.MethodGet, "/kv/v1/range?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(out))
	for k, v := range out {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Put uses the POST form so values may contain any character.
func (t *HTTPTransport) Put(ctx context.Context, key, value string) error {
	return t.do(ctx, http.MethodPost, keyPath(key), map[string]string{"value": value}, nil)
}

func (t *HTTPTransport) Delete(ctx context.Context, key string) (string, error) {
	var out map[string]string
	if err := t.do(ctx, http.MethodDelete, keyPath(key), nil, &out); err != nil {
		return "", err
	}
	return out[key], nil
}

func (t *HTTPTransport) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := t.do(ctx, http.MethodGet, "/admin/db/stats", nil, &out)
	return out, err
}

// Backup runs a backup. A 502 means the archive was kept but the upload
// failed; the body still describes the artifact.
func (t *HTTPTransport) Backup(ctx context.Context) (BackupResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/admin/backup", nil)
	if err != nil {
		return BackupResult{}, err
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return BackupResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadGateway {
		return BackupResult{}, decodeAPIError(resp)
	}
	var out struct {
		BackupResult
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BackupResult{}, err
	}
	out.BackupResult.UploadError = out.Error
	return out.BackupResult, nil
}

func (t *HTTPTransport) Health(ctx context.Context) error {
	return t.do(ctx, http.MethodGet, "/v1/healthz", nil, nil)
}

// Watch reads the Server-Sent Events feed.
func (t *HTTPTransport) Watch(ctx context.Context, filter string, onEvent func(event []byte) error) error {
	path := "/kv/v1/watch"
	if filter != "" {
		path += "?" + url.Values{"filter": {filter}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if err := onEvent([]byte(data)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
