package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	cfgpkg "github.com/rzbill/kvdb/internal/config"
	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

func newTestServer(t *testing.T, mutate func(*cfgpkg.Config)) (*runtime.Runtime, *Server) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "db")
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "backups")
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg, Logger: logpkg.NewNop()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return rt, New(rt, logger)
}

func do(t *testing.T, s *Server, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthHandler(t *testing.T) {
	_, s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestKVRoundTrip(t *testing.T) {
	_, s := newTestServer(t, nil)

	if w := do(t, s, http.MethodPut, "/kv/v1/a/1", ""); w.Code != http.StatusOK {
		t.Fatalf("put status: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/kv/v1/b", `{"value":"2"}`); w.Code != http.StatusOK {
		t.Fatalf("post status: %d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodPut, "/kv/v1/c/3", ""); w.Code != http.StatusOK {
		t.Fatalf("put status: %d", w.Code)
	}

	got := decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/a", ""))
	if got["a"] != "1" {
		t.Fatalf("get a: %v", got)
	}
	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/missing", ""))
	if v, ok := got["missing"]; !ok || v != "" {
		t.Fatalf("missing key should map to empty string: %v", got)
	}

	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/batch?keys=a,c,zz", ""))
	if got["a"] != "1" || got["c"] != "3" || got["zz"] != "" || len(got) != 3 {
		t.Fatalf("batch: %v", got)
	}

	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/range?from=a&to=c", ""))
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("range: %v", got)
	}
	// missing bounds are open; init.ts is always present
	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/range?from=b", ""))
	if len(got) != 3 || got["c"] != "3" || got["init.ts"] == "" {
		t.Fatalf("range from b: %v", got)
	}
	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/range", ""))
	if len(got) != 4 {
		t.Fatalf("unbounded range should return every key: %v", got)
	}

	got = decodeMap(t, do(t, s, http.MethodDelete, "/kv/v1/b", ""))
	if got["b"] != "2" {
		t.Fatalf("delete should return old value: %v", got)
	}
	got = decodeMap(t, do(t, s, http.MethodGet, "/kv/v1/b", ""))
	if got["b"] != "" {
		t.Fatalf("b still present: %v", got)
	}
}

func TestBadRequests(t *testing.T) {
	_, s := newTestServer(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"batch without keys", http.MethodGet, "/kv/v1/batch", "", http.StatusBadRequest},
		{"post null value", http.MethodPost, "/kv/v1/k", `{"value":null}`, http.StatusBadRequest},
		{"post garbage", http.MethodPost, "/kv/v1/k", `{`, http.StatusBadRequest},
		{"watch bad filter", http.MethodGet, "/kv/v1/watch?filter=key%20%2B", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(t, s, tc.method, tc.path, tc.body); w.Code != tc.want {
				t.Fatalf("status: got %d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	_, s := newTestServer(t, func(c *cfgpkg.Config) {
		c.EnableAuth = true
		c.APIKey = "sekret"
	})
	if w := do(t, s, http.MethodGet, "/kv/v1/a", ""); w.Code != http.StatusForbidden {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/admin/db/stats", "", "Authorization", "Bearer wrong"); w.Code != http.StatusForbidden {
		t.Fatalf("wrong token: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/kv/v1/a", "", "Authorization", "Bearer sekret"); w.Code != http.StatusOK {
		t.Fatalf("good token: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/v1/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("health must stay open: %d", w.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	_, s := newTestServer(t, nil)
	do(t, s, http.MethodPut, "/kv/v1/a/1", "")

	w := do(t, s, http.MethodGet, "/admin/db/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status: %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if _, ok := stats["key_count"]; !ok {
		t.Fatalf("stats missing key_count: %v", stats)
	}
	if _, ok := stats["listeners_count"]; !ok {
		t.Fatalf("stats missing listeners_count: %v", stats)
	}

	w = do(t, s, http.MethodGet, "/admin/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "kvdb_http_requests_total") {
		t.Fatalf("metrics: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/admin/backup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("backup status: %d body=%s", w.Code, w.Body.String())
	}
	var br struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		Kept bool   `json:"kept"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &br); err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if !strings.HasPrefix(br.Name, "kvdb-backup-") || br.Size == 0 || !br.Kept {
		t.Fatalf("unexpected backup response: %+v", br)
	}
}

func TestSSEWatch(t *testing.T) {
	rt, s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/kv/v1/watch?filter="+`key%20%3D%3D%20%22hot%22`, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("watch status: %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return rt.Datastore().ListenerCount() == 1 })

	if err := rt.Datastore().Insert(ctx, "cold", "x"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := rt.Datastore().Insert(ctx, "hot", "y"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sc := bufio.NewScanner(resp.Body)
	var line string
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data: ") {
			line = strings.TrimPrefix(sc.Text(), "data: ")
			break
		}
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode event %q: %v", line, err)
	}
	if ev["hot"] != "y" || ev["op"] != "put" {
		t.Fatalf("unexpected event: %v", ev)
	}

	cancel()
	waitFor(t, func() bool { return rt.Datastore().ListenerCount() == 0 })
}

// stallingWriter blocks inside its first Write and counts completed writes.
type stallingWriter struct {
	hdr     http.Header
	stalled chan struct{}
	once    sync.Once
	mu      sync.Mutex
	writes  int
}

func (w *stallingWriter) Header() http.Header { return w.hdr }
func (w *stallingWriter) WriteHeader(int)     {}
func (w *stallingWriter) Flush()              {}

func (w *stallingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.stalled)
		time.Sleep(300 * time.Millisecond)
	})
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	return len(p), nil
}

func (w *stallingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func TestSSEHandlerWaitsForInFlightWrite(t *testing.T) {
	rt, s := newTestServer(t, nil)
	w := &stallingWriter{hdr: http.Header{}, stalled: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/kv/v1/watch", nil).WithContext(ctx)

	returned := make(chan int, 1)
	go func() {
		s.Handler().ServeHTTP(w, req)
		returned <- w.count()
	}()
	waitFor(t, func() bool { return rt.Datastore().ListenerCount() == 1 })

	if err := rt.Datastore().Insert(context.Background(), "k", "v"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case <-w.stalled:
	case <-time.After(5 * time.Second):
		t.Fatalf("event never reached the writer")
	}
	cancel()

	var atReturn int
	select {
	case atReturn = <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler did not return")
	}
	time.Sleep(400 * time.Millisecond)
	if got := w.count(); got != atReturn {
		t.Fatalf("%d writes after handler returned", got-atReturn)
	}
	if atReturn == 0 {
		t.Fatalf("in-flight frame was not completed before return")
	}
}

func TestWebSocketWatch(t *testing.T) {
	rt, s := newTestServer(t, func(c *cfgpkg.Config) {
		c.EnableAuth = true
		c.APIKey = "sekret"
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	if _, err := websocket.Dial(wsURL+"/ws/v1/wrong", "", ts.URL); err == nil {
		t.Fatalf("expected wrong api key to be rejected")
	}

	conn, err := websocket.Dial(wsURL+"/ws/v1/sekret", "", ts.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return rt.Datastore().ListenerCount() == 1 })

	ctx := context.Background()
	if err := rt.Datastore().Insert(ctx, "k", "v"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := rt.Datastore().Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []map[string]any
	for len(got) < 2 {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			t.Fatalf("receive: %v", err)
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			t.Fatalf("decode %q: %v", msg, err)
		}
		got = append(got, ev)
	}
	if got[0]["k"] != "v" || got[0]["op"] != "put" {
		t.Fatalf("first event: %v", got[0])
	}
	if got[1]["op"] != "delete" {
		t.Fatalf("second event: %v", got[1])
	}

	_ = conn.Close()
	waitFor(t, func() bool { return rt.Datastore().ListenerCount() == 0 })
}
