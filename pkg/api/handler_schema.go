package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/models"
)

// schemaHandler handles GET /schema/: the vocabulary of every
// (publisher, resource_type, action) triple seen so far. An unreadable
// registry reads as empty rather than failing the request, matching how
// the pattern compiler treats it.
func (s *Server) schemaHandler(c *echo.Context) error {
	summary, err := s.schemas.Summary(c.Request().Context())
	if err != nil {
		slog.Warn("Failed to read schema registry", "error", err)
		summary = &models.SchemaSummary{}
	}
	return c.JSON(http.StatusOK, summary)
}
