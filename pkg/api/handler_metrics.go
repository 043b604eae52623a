package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler handles GET /map/metrics, serving the Prometheus text
// exposition from the process registry.
func (s *Server) metricsHandler(c *echo.Context) error {
	h := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}

// metricsJSONHandler handles GET /map/metrics/json with the roll-up
// counters and derived rates.
func (s *Server) metricsJSONHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.metrics.Snapshot())
}
