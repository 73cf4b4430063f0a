package controllers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/rzbill/kvdb/internal/notify"
	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// WatchController streams change events over WebSocket and Server-Sent
// Events. Both accept an optional CEL filter in the "filter" query
// parameter.
type WatchController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	apiKey string
	auth   bool
}

// NewWatchController creates a new watch controller. When auth is on the
// WebSocket path must carry apiKey, as the original service required.
func NewWatchController(rt *runtime.Runtime, logger logpkg.Logger, auth bool, apiKey string) *WatchController {
	return &WatchController{rt: rt, logger: logger, auth: auth, apiKey: apiKey}
}

// RegisterWebSocket registers /ws/v1 and /ws/v1/{apiKey}.
func (c *WatchController) RegisterWebSocket(r chi.Router) {
	r.Get("/ws/v1", c.handleWebSocket)
	r.Get("/ws/v1/{apiKey}", c.handleWebSocket)
}

// RegisterSSE registers GET /kv/v1/watch. It must sit outside any request
// timeout.
func (c *WatchController) RegisterSSE(r chi.Router) {
	r.Get("/kv/v1/watch", c.handleSSE)
}

// sseSink implements notify.Sink for Server-Sent Events.
type sseSink struct {
	w   http.ResponseWriter
	ctx context.Context
}

// Send writes one event as an SSE data frame.
func (s sseSink) Send(payload []byte) error {
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	_, err := s.w.Write([]byte("\n\n"))
	return err
}

// Context returns the request context for cancellation.
func (s sseSink) Context() context.Context { return s.ctx }

// Flush pushes buffered frames to the client.
func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (c *WatchController) handleSSE(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if err := notify.ValidateFilter(filter); err != nil {
		writeError(w, statusForSubscribe(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// From here on only the subscriber's writer touches w.
	subID := uuid.NewString()
	sub, err := c.rt.Datastore().Subscribe(subID, sseSink{w: w, ctx: r.Context()}, notify.Options{Filter: filter})
	if err != nil {
		c.logger.Warn("sse subscribe failed", logpkg.Err(err))
		return
	}
	log := c.logger.With(logpkg.Str(logpkg.SubscriberIDKey, subID))
	log.Debug("sse subscriber connected")
	select {
	case <-r.Context().Done():
	case <-sub.Done():
	}
	c.rt.Datastore().Unsubscribe(subID)
	// w must not be touched once the handler returns.
	<-sub.Done()
	log.Debug("sse subscriber gone", logpkg.Err(sub.Err()))
}

// wsSink implements notify.Sink over a WebSocket connection.
type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s wsSink) Send(payload []byte) error { return websocket.Message.Send(s.conn, string(payload)) }
func (s wsSink) Flush() error              { return nil }
func (s wsSink) Context() context.Context  { return s.ctx }

func (c *WatchController) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.auth {
		got := chi.URLParam(r, "apiKey")
		if subtle.ConstantTimeCompare([]byte(got), []byte(c.apiKey)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}
	filter := r.URL.Query().Get("filter")
	srv := websocket.Server{
		// browsers and CLI clients connect from anywhere; the path key is the gate
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			c.serveWebSocket(conn, filter)
		},
	}
	srv.ServeHTTP(w, r)
}

func (c *WatchController) serveWebSocket(conn *websocket.Conn, filter string) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	subID := uuid.NewString()
	sub, err := c.rt.Datastore().Subscribe(subID, wsSink{conn: conn, ctx: ctx}, notify.Options{Filter: filter})
	if err != nil {
		_ = websocket.JSON.Send(conn, map[string]string{"error": err.Error()})
		return
	}
	log := c.logger.With(logpkg.Str(logpkg.SubscriberIDKey, subID))
	log.Debug("websocket subscriber connected")

	// The feed is one-way; reading only detects the client closing.
	go func() {
		defer cancel()
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-sub.Done():
	}
	c.rt.Datastore().Unsubscribe(subID)
	<-sub.Done()
	log.Debug("websocket subscriber gone", logpkg.Err(sub.Err()))
}

func statusForSubscribe(err error) int {
	var fe *notify.FilterError
	if errors.As(err, &fe) {
		return http.StatusBadRequest
	}
	return statusFor(err)
}
