package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/monitoring"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// Health returns a simple status payload. When a registry is supplied the
// payload also carries per-collection stats.
func Health(registry *repository.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}
		if registry != nil {
			payload["collections"] = registry.Stats()
		}
		response.Success(c, http.StatusOK, payload)
	}
}

// Liveness runs the manager's liveness probes.
func Liveness(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateLiveness(c.Request.Context()))
	}
}

// Readiness runs the manager's readiness probes.
func Readiness(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateReadiness(c.Request.Context()))
	}
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
