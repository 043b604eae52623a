package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/langhook/langhook/pkg/models"
)

// createSubscriptionHandler handles POST /subscriptions/. The description
// is compiled to a subject pattern before anything is stored; a
// description the registry vocabulary cannot express fails with 422 and
// no subscription is created.
func (s *Server) createSubscriptionHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	gateEnabled := req.Gate != nil && req.Gate.Enabled
	result, err := s.compiler.Compile(ctx, req.Description, gateEnabled)
	if err != nil {
		return mapServiceError(err)
	}
	if gateEnabled && req.Gate.Prompt == "" {
		req.Gate.Prompt = result.GatePrompt
	}

	sub, err := s.subscriptions.Create(ctx, models.DefaultSubscriberID, req, result.Pattern)
	if err != nil {
		return mapServiceError(err)
	}

	// The consumer must be running before the client hears 201. A start
	// failure is not fatal: the reconcile sweep retries it.
	if err := s.supervisor.Add(ctx, sub); err != nil {
		slog.Error("Failed to start subscription consumer",
			"subscription_id", sub.ID, "pattern", sub.Pattern, "error", err)
	}
	s.notifyChange(ctx, "created", sub.ID)

	slog.Info("Subscription created",
		"subscription_id", sub.ID, "pattern", sub.Pattern)
	return c.JSON(http.StatusCreated, sub)
}

// listSubscriptionsHandler handles GET /subscriptions/.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	page, size := parsePagination(c)
	result, err := s.subscriptions.List(c.Request().Context(), models.DefaultSubscriberID, page, size)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// getSubscriptionHandler handles GET /subscriptions/:id.
func (s *Server) getSubscriptionHandler(c *echo.Context) error {
	id, err := subscriptionID(c)
	if err != nil {
		return err
	}

	sub, err := s.subscriptions.Get(c.Request().Context(), models.DefaultSubscriberID, id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sub)
}

// updateSubscriptionHandler handles PUT /subscriptions/:id. A changed
// description recompiles the pattern; the running consumer is restarted
// either way because the filter or gate may have changed.
func (s *Server) updateSubscriptionHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	id, err := subscriptionID(c)
	if err != nil {
		return err
	}

	var req models.UpdateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var newPattern *string
	if req.Description != nil {
		current, err := s.subscriptions.Get(ctx, models.DefaultSubscriberID, id)
		if err != nil {
			return mapServiceError(err)
		}
		gateEnabled := current.GateEnabled()
		if req.Gate != nil {
			gateEnabled = req.Gate.Enabled
		}

		result, err := s.compiler.Compile(ctx, *req.Description, gateEnabled)
		if err != nil {
			return mapServiceError(err)
		}
		newPattern = &result.Pattern
		if req.Gate != nil && req.Gate.Enabled && req.Gate.Prompt == "" {
			req.Gate.Prompt = result.GatePrompt
		}
	}

	sub, err := s.subscriptions.Update(ctx, models.DefaultSubscriberID, id, req, newPattern)
	if err != nil {
		return mapServiceError(err)
	}

	if err := s.supervisor.Update(ctx, sub); err != nil {
		slog.Error("Failed to restart subscription consumer",
			"subscription_id", sub.ID, "pattern", sub.Pattern, "error", err)
	}
	s.notifyChange(ctx, "updated", sub.ID)

	slog.Info("Subscription updated", "subscription_id", sub.ID)
	return c.JSON(http.StatusOK, sub)
}

// deleteSubscriptionHandler handles DELETE /subscriptions/:id.
func (s *Server) deleteSubscriptionHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	id, err := subscriptionID(c)
	if err != nil {
		return err
	}

	if err := s.subscriptions.Delete(ctx, models.DefaultSubscriberID, id); err != nil {
		return mapServiceError(err)
	}

	s.supervisor.Remove(id)
	s.notifyChange(ctx, "deleted", id)

	slog.Info("Subscription deleted", "subscription_id", id)
	return c.NoContent(http.StatusNoContent)
}

// listSubscriptionEventsHandler handles GET /subscriptions/:id/events.
func (s *Server) listSubscriptionEventsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	id, err := subscriptionID(c)
	if err != nil {
		return err
	}
	if _, err := s.subscriptions.Get(ctx, models.DefaultSubscriberID, id); err != nil {
		return mapServiceError(err)
	}

	page, size := parsePagination(c)
	result, err := s.eventLogs.ListSubscriptionEvents(ctx, id, page, size)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// notifyChange fans a subscription mutation out to the other replicas.
// Best effort: the local supervisor was already updated synchronously.
func (s *Server) notifyChange(ctx context.Context, changeType string, id int64) {
	if s.notifier == nil {
		return
	}
	var err error
	switch changeType {
	case "created":
		err = s.notifier.NotifyCreated(ctx, id, models.DefaultSubscriberID)
	case "updated":
		err = s.notifier.NotifyUpdated(ctx, id, models.DefaultSubscriberID)
	case "deleted":
		err = s.notifier.NotifyDeleted(ctx, id, models.DefaultSubscriberID)
	}
	if err != nil {
		slog.Warn("Failed to notify subscription change",
			"subscription_id", id, "change", changeType, "error", err)
	}
}

// subscriptionID parses the :id path parameter.
func subscriptionID(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid subscription id")
	}
	return id, nil
}

// parsePagination reads page/size query parameters, ignoring values the
// store would reject anyway.
func parsePagination(c *echo.Context) (page, size int) {
	page, size = 1, 50
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := c.QueryParam("size"); v != "" {
		if sz, err := strconv.Atoi(v); err == nil && sz > 0 && sz <= 100 {
			size = sz
		}
	}
	return page, size
}
