package controllers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/kvdb/internal/backup"
	"github.com/rzbill/kvdb/internal/runtime"
	logpkg "github.com/rzbill/kvdb/pkg/log"
)

// AdminController serves engine statistics, Prometheus metrics and
// on-demand backups.
type AdminController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewAdminController creates a new admin controller.
func NewAdminController(rt *runtime.Runtime, logger logpkg.Logger) *AdminController {
	return &AdminController{rt: rt, logger: logger}
}

// RegisterRoutes registers the /admin routes.
func (c *AdminController) RegisterRoutes(r chi.Router) {
	r.Get("/admin/db/stats", c.handleStats)
	r.Method(http.MethodGet, "/admin/metrics", c.rt.Metrics().Handler())
	r.Post("/admin/backup", c.handleBackup)
}

func (c *AdminController) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := c.rt.Datastore().Stats()
	for k, v := range c.rt.Backups().Stats() {
		stats[k] = v
	}
	writeJSON(w, stats)
}

// handleBackup runs a backup synchronously. A failed upload still reports
// the kept artifact, with status 502.
func (c *AdminController) handleBackup(w http.ResponseWriter, r *http.Request) {
	art, err := c.rt.Datastore().TakeBackup(r.Context())
	var uerr *backup.UploadError
	switch {
	case err == nil:
	case errors.As(err, &uerr):
		writeJSONStatus(w, http.StatusBadGateway, backupResp{Name: art.Name, Path: art.Path, Size: art.Size, Kept: art.Kept, Error: err.Error()})
		return
	default:
		c.logger.WithContext(r.Context()).Error("backup failed", logpkg.Err(err))
		writeErr(w, err)
		return
	}
	writeJSON(w, backupResp{Name: art.Name, Path: art.Path, Size: art.Size, Uploaded: art.Uploaded, Kept: art.Kept})
}
