package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health/.
// Reports the database, the consumer supervisor, and LLM availability.
// A missing LLM degrades mapping and gating but the pipeline still runs
// on cached transforms, so it lowers the roll-up to degraded, not
// unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if _, err := s.dbClient.Health(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	consumers := 0
	if s.supervisor != nil {
		consumers = s.supervisor.Count()
		checks["supervisor"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.model != nil {
		if s.model.Available() {
			checks["llm"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["llm"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: "no model configured: mapping synthesis and gating are limited",
			}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:    status,
		Version:   version.GitCommit,
		Consumers: consumers,
		Checks:    checks,
	})
}
