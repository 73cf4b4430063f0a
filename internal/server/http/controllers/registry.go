package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It owns the route grouping: which endpoints sit behind bearer auth and
// which run under the request timeout.
type ControllerRegistry struct {
	general *GeneralController
	kv      *KVController
	admin   *AdminController
	watch   *WatchController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	cfg := rt.Config()
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		kv:      NewKVController(rt, logger),
		admin:   NewAdminController(rt, logger),
		watch:   NewWatchController(rt, logger, cfg.EnableAuth, cfg.APIKey),
	}
}

// RegisterAllRoutes registers all controller routes on r. auth guards the
// /kv and /admin groups; timeout bounds non-streaming /kv requests.
func (c *ControllerRegistry) RegisterAllRoutes(r chi.Router, auth func(http.Handler) http.Handler, timeout time.Duration) {
	c.general.RegisterRoutes(r)
	c.watch.RegisterWebSocket(r)

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		c.watch.RegisterSSE(r)
		c.admin.RegisterRoutes(r)
		r.Group(func(r chi.Router) {
			if timeout > 0 {
				r.Use(middleware.Timeout(timeout))
			}
			c.kv.RegisterRoutes(r)
		})
	})
}
