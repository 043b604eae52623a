package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langhook/langhook/pkg/models"
	testdb "github.com/langhook/langhook/test/database"
)

func newEventLog(source, publisher, resourceType, action string, ts time.Time) *models.EventLog {
	return &models.EventLog{
		EventID:      uuid.New().String(),
		Source:       source,
		Subject:      "langhook.events." + publisher + "." + resourceType + ".42." + action,
		Publisher:    publisher,
		ResourceType: resourceType,
		ResourceID:   "42",
		Action:       action,
		CanonicalData: map[string]any{
			"publisher": publisher,
			"resource":  map[string]any{"type": resourceType, "id": float64(42)},
			"action":    action,
		},
		RawPayload: map[string]any{"original": true},
		Timestamp:  ts,
	}
}

func TestEventLogService_RecordEvent(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewEventLogService(client)
	ctx := context.Background()

	t.Run("records canonical event", func(t *testing.T) {
		event := newEventLog("github", "github", "pull_request", "created", time.Now().UTC())

		err := service.RecordEvent(ctx, event)
		require.NoError(t, err)
		assert.NotZero(t, event.ID)
		assert.False(t, event.LoggedAt.IsZero())
	})

	t.Run("raw payload is optional", func(t *testing.T) {
		event := newEventLog("stripe", "stripe", "payment_intent", "updated", time.Now().UTC())
		event.RawPayload = nil

		err := service.RecordEvent(ctx, event)
		require.NoError(t, err)

		result, err := service.ListEvents(ctx, models.EventLogFilters{Source: "stripe"})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Nil(t, result.Events[0].RawPayload)
	})

	t.Run("rejects missing event id", func(t *testing.T) {
		event := newEventLog("github", "github", "issues", "created", time.Now().UTC())
		event.EventID = ""
		err := service.RecordEvent(ctx, event)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects missing canonical data", func(t *testing.T) {
		event := newEventLog("github", "github", "issues", "created", time.Now().UTC())
		event.CanonicalData = nil
		err := service.RecordEvent(ctx, event)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestEventLogService_ListEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewEventLogService(client)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	seed := []*models.EventLog{
		newEventLog("github", "github", "pull_request", "created", now.Add(-3*time.Hour)),
		newEventLog("github", "github", "pull_request", "updated", now.Add(-2*time.Hour)),
		newEventLog("github", "github", "issues", "created", now.Add(-1*time.Hour)),
		newEventLog("stripe", "stripe", "payment_intent", "updated", now),
	}
	for _, event := range seed {
		require.NoError(t, service.RecordEvent(ctx, event))
	}

	t.Run("lists all events newest first", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		require.Len(t, result.Events, 4)
		assert.Equal(t, seed[3].EventID, result.Events[0].EventID)
		assert.Equal(t, seed[0].EventID, result.Events[3].EventID)
	})

	t.Run("filters by source", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{Source: "stripe"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Total)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "stripe", result.Events[0].Source)
	})

	t.Run("filters by publisher and resource type", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{
			Publisher:    "github",
			ResourceType: "pull_request",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		for _, event := range result.Events {
			assert.Equal(t, "pull_request", event.ResourceType)
		}
	})

	t.Run("filters by action", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{Action: "created"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
	})

	t.Run("filters by since timestamp", func(t *testing.T) {
		since := now.Add(-90 * time.Minute)
		result, err := service.ListEvents(ctx, models.EventLogFilters{Since: &since})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		for _, event := range result.Events {
			assert.False(t, event.Timestamp.Before(since))
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{Page: 2, Size: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, result.Total)
		assert.Len(t, result.Events, 1)
		assert.Equal(t, 2, result.Page)
		assert.Equal(t, 3, result.Size)
	})

	t.Run("decodes canonical data", func(t *testing.T) {
		result, err := service.ListEvents(ctx, models.EventLogFilters{Source: "stripe"})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "stripe", result.Events[0].CanonicalData["publisher"])
	})
}

func TestEventLogService_SubscriptionEvents(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewEventLogService(client)
	subscriptions := NewSubscriptionService(client)
	ctx := context.Background()

	sub, err := subscriptions.Create(ctx, models.DefaultSubscriberID,
		models.CreateSubscriptionRequest{Description: "GitHub PRs"}, "langhook.events.github.>")
	require.NoError(t, err)

	t.Run("records delivery outcome", func(t *testing.T) {
		status := 204
		passed := true
		reason := "matches the subscription"
		record := &models.SubscriptionEventLog{
			SubscriptionID:        sub.ID,
			EventID:               uuid.New().String(),
			Source:                "github",
			Subject:               "langhook.events.github.pull_request.1374.created",
			Publisher:             "github",
			ResourceType:          "pull_request",
			ResourceID:            "1374",
			Action:                "created",
			CanonicalData:         map[string]any{"publisher": "github"},
			Timestamp:             time.Now().UTC(),
			WebhookSent:           true,
			WebhookResponseStatus: &status,
			GatePassed:            &passed,
			GateReason:            &reason,
		}

		err := service.RecordSubscriptionEvent(ctx, record)
		require.NoError(t, err)
		assert.NotZero(t, record.ID)

		result, err := service.ListSubscriptionEvents(ctx, sub.ID, 1, 50)
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		got := result.Events[0]
		assert.True(t, got.WebhookSent)
		require.NotNil(t, got.WebhookResponseStatus)
		assert.Equal(t, 204, *got.WebhookResponseStatus)
		require.NotNil(t, got.GatePassed)
		assert.True(t, *got.GatePassed)
		require.NotNil(t, got.GateReason)
		assert.Equal(t, reason, *got.GateReason)
	})

	t.Run("records gate block with no delivery attempt", func(t *testing.T) {
		passed := false
		reason := "amount below the threshold"
		record := &models.SubscriptionEventLog{
			SubscriptionID: sub.ID,
			EventID:        uuid.New().String(),
			Source:         "stripe",
			Subject:        "langhook.events.stripe.payment_intent.pi_1.updated",
			Publisher:      "stripe",
			ResourceType:   "payment_intent",
			ResourceID:     "pi_1",
			Action:         "updated",
			CanonicalData:  map[string]any{"publisher": "stripe"},
			Timestamp:      time.Now().UTC(),
			WebhookSent:    false,
			GatePassed:     &passed,
			GateReason:     &reason,
		}

		err := service.RecordSubscriptionEvent(ctx, record)
		require.NoError(t, err)

		result, err := service.ListSubscriptionEvents(ctx, sub.ID, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		got := result.Events[0]
		assert.False(t, got.WebhookSent)
		assert.Nil(t, got.WebhookResponseStatus)
		require.NotNil(t, got.GatePassed)
		assert.False(t, *got.GatePassed)
	})

	t.Run("scopes listing to one subscription", func(t *testing.T) {
		other, err := subscriptions.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "other"}, "langhook.events.jira.>")
		require.NoError(t, err)

		result, err := service.ListSubscriptionEvents(ctx, other.ID, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Total)
		assert.Empty(t, result.Events)
	})

	t.Run("rejects missing subscription id", func(t *testing.T) {
		err := service.RecordSubscriptionEvent(ctx, &models.SubscriptionEventLog{
			EventID:       uuid.New().String(),
			CanonicalData: map[string]any{},
			Timestamp:     time.Now().UTC(),
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}
