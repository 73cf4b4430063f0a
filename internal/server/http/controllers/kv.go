package controllers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// KVController serves point, batch and range reads and single-key writes.
//
// Every response is a JSON object keyed by record key. Missing keys map to
// the empty string, matching the behaviour clients of the original service
// depend on.
type KVController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewKVController creates a new KV controller.
func NewKVController(rt *runtime.Runtime, logger logpkg.Logger) *KVController {
	return &KVController{rt: rt, logger: logger}
}

// RegisterRoutes registers the /kv/v1 routes. Static segments win over the
// {key} parameter, so "range" and "batch" are not addressable as keys here.
func (c *KVController) RegisterRoutes(r chi.Router) {
	r.Get("/kv/v1/range", c.handleRange)
	r.Get("/kv/v1/batch", c.handleBatch)
	r.Get("/kv/v1/{key}", c.handleGet)
	r.Put("/kv/v1/{key}/{value}", c.handlePut)
	r.Post("/kv/v1/{key}", c.handlePost)
	r.Delete("/kv/v1/{key}", c.handleDelete)
}

// urlParam returns a decoded path parameter. chi routes on the raw path
// when it carries escapes such as %2F, leaving parameters escaped.
func urlParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (c *KVController) handleGet(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")
	v, _, err := c.rt.Datastore().Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{key: v})
}

func (c *KVController) handleBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("keys")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "keys query parameter is required")
		return
	}
	keys := strings.Split(raw, ",")
	found, err := c.rt.Datastore().GetBatch(keys)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = found[k]
	}
	writeJSON(w, out)
}

func (c *KVController) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := c.rt.Datastore().GetRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	writeJSON(w, out)
}

func (c *KVController) handlePut(w http.ResponseWriter, r *http.Request) {
	c.insert(w, r, urlParam(r, "key"), urlParam(r, "value"))
}

func (c *KVController) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postValueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is null")
		return
	}
	c.insert(w, r, urlParam(r, "key"), *req.Value)
}

func (c *KVController) insert(w http.ResponseWriter, r *http.Request, key, value string) {
	if err := c.rt.Datastore().Insert(r.Context(), key, value); err != nil {
		c.logger.WithContext(r.Context()).Error("insert failed", logpkg.Str("key", key), logpkg.Err(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{key: value})
}

func (c *KVController) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")
	old, _, err := c.rt.Datastore().Remove(r.Context(), key)
	if err != nil {
		c.logger.WithContext(r.Context()).Error("delete failed", logpkg.Str("key", key), logpkg.Err(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{key: old})
}
