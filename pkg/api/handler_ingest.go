package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/canonical"
	"github.com/langhook/langhook/pkg/models"
	"github.com/langhook/langhook/pkg/stream"
)

// sourceToken constrains source names to one lowercase subject token, so
// the raw subject "raw.ingest.<source>" stays well-formed.
var sourceToken = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ingestHandler handles POST /ingest/:source. It accepts any JSON object,
// stamps it with a request id and receive time, and publishes it on the
// raw stream. Nothing here waits on downstream consumers.
func (s *Server) ingestHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	source := strings.ToLower(c.Param("source"))
	if !sourceToken.MatchString(source) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source name")
	}

	requestID := uuid.New().String()
	c.Response().Header().Set("X-Request-ID", requestID)

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, clientIP(c.Request()))
		if err != nil {
			slog.Warn("Rate limit check failed, allowing request",
				"source", source, "request_id", requestID, "error", err)
		}
		if !allowed {
			retryAfter := int(s.limiter.RetryAfter() / time.Second)
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		slog.Warn("Request body too large",
			"source", source, "request_id", requestID,
			"body_size", len(body), "limit", s.cfg.MaxBodyBytes)
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.deadLetter(c, source, requestID, string(body), err)
		slog.Warn("Invalid JSON payload",
			"source", source, "request_id", requestID, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}

	sigValid := verifySignature(s.secrets(source), c.Request().Header, body)
	if sigValid != nil && !*sigValid {
		slog.Warn("Invalid HMAC signature", "source", source, "request_id", requestID)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	headers := make(map[string]string, len(c.Request().Header))
	for name := range c.Request().Header {
		headers[strings.ToLower(name)] = c.Request().Header.Get(name)
	}

	event := &models.RawEvent{
		ID:             requestID,
		Timestamp:      time.Now().UTC(),
		Source:         source,
		SignatureValid: sigValid,
		Headers:        headers,
		Payload:        payload,
	}
	if err := s.publisher.Publish(ctx, stream.RawSubject(source), event); err != nil {
		slog.Error("Failed to publish raw event",
			"source", source, "request_id", requestID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept event")
	}

	slog.Debug("Event ingested",
		"source", source, "request_id", requestID,
		"signature_valid", sigValid)

	return c.JSON(http.StatusAccepted, &IngestResponse{
		Message:   "Event accepted",
		RequestID: requestID,
	})
}

// deadLetter publishes a mapping-failure record for a body that never
// parsed. The payload is the raw body string since there is no JSON to
// carry. Publish failures are logged and swallowed: the client already
// gets a 400 either way.
func (s *Server) deadLetter(c *echo.Context, source, requestID, body string, cause error) {
	failure := &models.MappingFailure{
		ID:        requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    source,
		Error:     "Invalid JSON payload: " + cause.Error(),
		Payload:   body,
	}
	if err := s.publisher.Publish(c.Request().Context(), canonical.MapFailSubject, failure); err != nil {
		slog.Error("Failed to publish dead letter",
			"source", source, "request_id", requestID, "error", err)
	}
}
