package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Pinger is satisfied by *sqlite.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves /health and the index page.
type HealthHandler struct {
	db        Pinger
	staticDir string
	logger    *zap.Logger
}

func NewHealthHandler(db Pinger, staticDir string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, staticDir: staticDir, logger: logger}
}

// HandleHealth answers {"status":"ok"} while the database answers a ping.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleIndex serves the single-page frontend.
//
// HTTP: GET /
func (h *HealthHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
}
