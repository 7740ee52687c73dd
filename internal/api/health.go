// Package api serves the HTTP surface of docmigrate serve: health, metrics and
// scheduled backup verification.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/db"
)

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	db        HealthChecker
	log       *logrus.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. checker may be nil.
func NewHealthHandler(checker HealthChecker, log *logrus.Logger, version string) *HealthHandler {
	return &HealthHandler{db: checker, log: log, version: version, startTime: time.Now()}
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	SchemaVersion int     `json:"schema_version"`
	Database      string  `json:"database"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /api/v1/health. A database outage degrades the status
// but still answers 200 so the scheduler can tell the process is alive.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		SchemaVersion: db.SchemaVersion(),
		Database:      "connected",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	if h.db == nil {
		resp.Database = "not_configured"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.HealthCheck(ctx); err != nil {
			h.log.WithError(err).Warn("health: database check failed")
			resp.Status = "degraded"
			resp.Database = "disconnected"
		}
	}

	c.JSON(http.StatusOK, resp)
}
