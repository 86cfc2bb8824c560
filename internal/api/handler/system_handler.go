package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves the manual tick trigger and health endpoints.
type SystemHandler struct {
	logger  *slog.Logger
	ticker  Ticker
	health  HealthChecker
	appName string
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger:  deps.Logger,
		ticker:  deps.Ticker,
		health:  deps.Health,
		appName: deps.AppName,
	}
}

// TriggerTick handles POST /api/v1/worker/tick. It runs one worker
// pass inline and returns the report, useful for operators and tests.
func (h *SystemHandler) TriggerTick(c *gin.Context) {
	if h.ticker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "manual tick is not enabled"})
		return
	}

	report := h.ticker.Tick(c.Request.Context(), time.Now().UTC())

	h.logger.Info("Manual tick finished",
		slog.Int("jobs_claimed", report.JobsClaimed),
		slog.Int("enrollments_processed", report.Sequences.Processed),
	)
	c.JSON(http.StatusOK, report)
}

// Health handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.appName,
				"error":   err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": h.appName})
}
