package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/models"
)

// listEventsHandler handles GET /events/: the canonical event log with
// optional routing-field filters.
func (s *Server) listEventsHandler(c *echo.Context) error {
	page, size := parsePagination(c)
	filters := models.EventLogFilters{
		Source:       c.QueryParam("source"),
		Publisher:    c.QueryParam("publisher"),
		ResourceType: c.QueryParam("resource_type"),
		Action:       c.QueryParam("action"),
		Page:         page,
		Size:         size,
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		filters.Since = &t
	}

	result, err := s.eventLogs.ListEvents(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}
