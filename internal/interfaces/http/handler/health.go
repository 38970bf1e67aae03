package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	timeout time.Duration
	started time.Time
}

// NewHealthHandler creates a HealthHandler. Readiness fails while any named check fails.
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		version: version,
		checks:  checks,
		timeout: 2 * time.Second,
		started: time.Now(),
	}
}

// RegisterRoutes mounts /health/live and /health/ready; /health aliases readiness.
func (h *HealthHandler) RegisterRoutes(engine gin.IRoutes) {
	engine.GET("/health", h.Ready)
	engine.GET("/health/live", h.Live)
	engine.GET("/health/ready", h.Ready)
}

// Live reports that the process is serving
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "alive",
		"version":    h.version,
		"go_version": runtime.Version(),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready runs every dependency check
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"time":   time.Now().Format(time.RFC3339),
		"checks": results,
	})
}
