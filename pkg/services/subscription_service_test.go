package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langhook/langhook/pkg/models"
	testdb "github.com/langhook/langhook/test/database"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestSubscriptionService_Create(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	t.Run("creates subscription with all fields", func(t *testing.T) {
		req := models.CreateSubscriptionRequest{
			Description: "Notify me about approved pull requests",
			ChannelType: strPtr(models.ChannelTypeWebhook),
			ChannelConfig: &models.ChannelConfig{
				URL:     "https://example.com/hook",
				Headers: map[string]string{"Authorization": "Bearer token"},
			},
			Disposable: true,
			Gate: &models.GateConfig{
				Enabled:        true,
				FailoverPolicy: models.FailClosed,
			},
		}

		sub, err := service.Create(ctx, models.DefaultSubscriberID, req, "langhook.events.github.pull_request.*.updated")
		require.NoError(t, err)
		assert.NotZero(t, sub.ID)
		assert.Equal(t, models.DefaultSubscriberID, sub.SubscriberID)
		assert.Equal(t, req.Description, sub.Description)
		assert.Equal(t, "langhook.events.github.pull_request.*.updated", sub.Pattern)
		require.NotNil(t, sub.ChannelType)
		assert.Equal(t, models.ChannelTypeWebhook, *sub.ChannelType)
		require.NotNil(t, sub.ChannelConfig)
		assert.Equal(t, "https://example.com/hook", sub.ChannelConfig.URL)
		assert.Equal(t, "Bearer token", sub.ChannelConfig.Headers["Authorization"])
		assert.True(t, sub.Disposable)
		require.NotNil(t, sub.Gate)
		assert.True(t, sub.Gate.Enabled)
		assert.Equal(t, models.FailClosed, sub.Gate.FailoverPolicy)
		assert.False(t, sub.CreatedAt.IsZero())
	})

	t.Run("applies defaults for minimal request", func(t *testing.T) {
		req := models.CreateSubscriptionRequest{Description: "Anything from stripe"}

		sub, err := service.Create(ctx, models.DefaultSubscriberID, req, "langhook.events.stripe.>")
		require.NoError(t, err)
		assert.True(t, sub.Active)
		assert.False(t, sub.Disposable)
		assert.False(t, sub.Used)
		assert.Nil(t, sub.ChannelType)
		assert.Nil(t, sub.ChannelConfig)
		assert.Nil(t, sub.Gate)
		assert.Nil(t, sub.UpdatedAt)
	})

	t.Run("rejects empty description", func(t *testing.T) {
		_, err := service.Create(ctx, models.DefaultSubscriberID, models.CreateSubscriptionRequest{Description: "  "}, "langhook.events.>")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "description")
	})

	t.Run("rejects empty pattern", func(t *testing.T) {
		_, err := service.Create(ctx, models.DefaultSubscriberID, models.CreateSubscriptionRequest{Description: "valid"}, "")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "pattern")
	})

	t.Run("rejects unsupported channel type", func(t *testing.T) {
		req := models.CreateSubscriptionRequest{
			Description: "valid",
			ChannelType: strPtr("slack"),
		}
		_, err := service.Create(ctx, models.DefaultSubscriberID, req, "langhook.events.>")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "channel_type")
	})

	t.Run("rejects webhook channel without url", func(t *testing.T) {
		req := models.CreateSubscriptionRequest{
			Description:   "valid",
			ChannelType:   strPtr(models.ChannelTypeWebhook),
			ChannelConfig: &models.ChannelConfig{},
		}
		_, err := service.Create(ctx, models.DefaultSubscriberID, req, "langhook.events.>")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "url is required")
	})

	t.Run("rejects unknown gate failover policy", func(t *testing.T) {
		req := models.CreateSubscriptionRequest{
			Description: "valid",
			Gate:        &models.GateConfig{Enabled: true, FailoverPolicy: "explode"},
		}
		_, err := service.Create(ctx, models.DefaultSubscriberID, req, "langhook.events.>")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "failover_policy")
	})
}

func TestSubscriptionService_Get(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	created, err := service.Create(ctx, models.DefaultSubscriberID,
		models.CreateSubscriptionRequest{Description: "GitHub issues"}, "langhook.events.github.issues.*.*")
	require.NoError(t, err)

	t.Run("retrieves existing subscription", func(t *testing.T) {
		sub, err := service.Get(ctx, models.DefaultSubscriberID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, sub.ID)
		assert.Equal(t, created.Pattern, sub.Pattern)
	})

	t.Run("returns ErrNotFound for missing id", func(t *testing.T) {
		_, err := service.Get(ctx, models.DefaultSubscriberID, 999999)
		require.Error(t, err)
		assert.Equal(t, ErrNotFound, err)
	})

	t.Run("returns ErrNotFound for another subscriber's id", func(t *testing.T) {
		_, err := service.Get(ctx, "someone-else", created.ID)
		require.Error(t, err)
		assert.Equal(t, ErrNotFound, err)
	})
}

func TestSubscriptionService_List(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: fmt.Sprintf("subscription %d", i)},
			"langhook.events.github.>")
		require.NoError(t, err)
	}
	_, err := service.Create(ctx, "someone-else",
		models.CreateSubscriptionRequest{Description: "not mine"}, "langhook.events.stripe.>")
	require.NoError(t, err)

	t.Run("lists only the subscriber's subscriptions", func(t *testing.T) {
		result, err := service.List(ctx, models.DefaultSubscriberID, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Total)
		assert.Len(t, result.Subscriptions, 5)
		for _, sub := range result.Subscriptions {
			assert.Equal(t, models.DefaultSubscriberID, sub.SubscriberID)
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		page1, err := service.List(ctx, models.DefaultSubscriberID, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, page1.Total)
		assert.Len(t, page1.Subscriptions, 2)
		assert.Equal(t, 1, page1.Page)
		assert.Equal(t, 2, page1.Size)

		page3, err := service.List(ctx, models.DefaultSubscriberID, 3, 2)
		require.NoError(t, err)
		assert.Len(t, page3.Subscriptions, 1)
	})

	t.Run("normalizes out-of-range paging values", func(t *testing.T) {
		result, err := service.List(ctx, models.DefaultSubscriberID, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Page)
		assert.Equal(t, 50, result.Size)

		result, err = service.List(ctx, models.DefaultSubscriberID, 1, 5000)
		require.NoError(t, err)
		assert.Equal(t, 100, result.Size)
	})

	t.Run("returns newest first", func(t *testing.T) {
		result, err := service.List(ctx, models.DefaultSubscriberID, 1, 50)
		require.NoError(t, err)
		require.NotEmpty(t, result.Subscriptions)
		for i := 1; i < len(result.Subscriptions); i++ {
			prev, cur := result.Subscriptions[i-1], result.Subscriptions[i]
			assert.False(t, prev.CreatedAt.Before(cur.CreatedAt))
		}
	})
}

func TestSubscriptionService_Update(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	t.Run("recompiles pattern with description", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "GitHub PRs"}, "langhook.events.github.pull_request.*.*")
		require.NoError(t, err)

		updated, err := service.Update(ctx, models.DefaultSubscriberID, created.ID,
			models.UpdateSubscriptionRequest{Description: strPtr("Stripe payments")},
			strPtr("langhook.events.stripe.payment_intent.*.*"))
		require.NoError(t, err)
		assert.Equal(t, "Stripe payments", updated.Description)
		assert.Equal(t, "langhook.events.stripe.payment_intent.*.*", updated.Pattern)
		require.NotNil(t, updated.UpdatedAt)
	})

	t.Run("toggles active without touching other fields", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "keep me"}, "langhook.events.jira.>")
		require.NoError(t, err)

		updated, err := service.Update(ctx, models.DefaultSubscriberID, created.ID,
			models.UpdateSubscriptionRequest{Active: boolPtr(false)}, nil)
		require.NoError(t, err)
		assert.False(t, updated.Active)
		assert.Equal(t, "keep me", updated.Description)
		assert.Equal(t, "langhook.events.jira.>", updated.Pattern)
	})

	t.Run("replaces gate config", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "gated"}, "langhook.events.stripe.>")
		require.NoError(t, err)

		updated, err := service.Update(ctx, models.DefaultSubscriberID, created.ID,
			models.UpdateSubscriptionRequest{
				Gate: &models.GateConfig{Enabled: true, Prompt: "only payments over $1000"},
			}, nil)
		require.NoError(t, err)
		require.NotNil(t, updated.Gate)
		assert.True(t, updated.Gate.Enabled)
		assert.Equal(t, "only payments over $1000", updated.Gate.Prompt)
	})

	t.Run("requires pattern when description changes", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "original"}, "langhook.events.>")
		require.NoError(t, err)

		_, err = service.Update(ctx, models.DefaultSubscriberID, created.ID,
			models.UpdateSubscriptionRequest{Description: strPtr("new words")}, nil)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("returns ErrNotFound for missing subscription", func(t *testing.T) {
		_, err := service.Update(ctx, models.DefaultSubscriberID, 999999,
			models.UpdateSubscriptionRequest{Active: boolPtr(true)}, nil)
		require.Error(t, err)
		assert.Equal(t, ErrNotFound, err)
	})
}

func TestSubscriptionService_Delete(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	t.Run("deletes existing subscription", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "short lived"}, "langhook.events.>")
		require.NoError(t, err)

		err = service.Delete(ctx, models.DefaultSubscriberID, created.ID)
		require.NoError(t, err)

		_, err = service.Get(ctx, models.DefaultSubscriberID, created.ID)
		assert.Equal(t, ErrNotFound, err)
	})

	t.Run("returns ErrNotFound for missing subscription", func(t *testing.T) {
		err := service.Delete(ctx, models.DefaultSubscriberID, 999999)
		require.Error(t, err)
		assert.Equal(t, ErrNotFound, err)
	})
}

func TestSubscriptionService_MarkUsed(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	t.Run("retires a disposable subscription exactly once", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "one shot", Disposable: true},
			"langhook.events.github.>")
		require.NoError(t, err)

		retired, err := service.MarkUsed(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, retired)

		// A second delivery racing the first must not retire again.
		retired, err = service.MarkUsed(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, retired)

		sub, err := service.Get(ctx, models.DefaultSubscriberID, created.ID)
		require.NoError(t, err)
		assert.True(t, sub.Used)
		assert.False(t, sub.Routable())
	})

	t.Run("ignores non-disposable subscriptions", func(t *testing.T) {
		created, err := service.Create(ctx, models.DefaultSubscriberID,
			models.CreateSubscriptionRequest{Description: "permanent"}, "langhook.events.github.>")
		require.NoError(t, err)

		retired, err := service.MarkUsed(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, retired)

		sub, err := service.Get(ctx, models.DefaultSubscriberID, created.ID)
		require.NoError(t, err)
		assert.False(t, sub.Used)
	})

	t.Run("returns false for missing subscription", func(t *testing.T) {
		retired, err := service.MarkUsed(ctx, 999999)
		require.NoError(t, err)
		assert.False(t, retired)
	})
}

func TestSubscriptionService_ListRoutable(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewSubscriptionService(client)
	ctx := context.Background()

	active, err := service.Create(ctx, models.DefaultSubscriberID,
		models.CreateSubscriptionRequest{Description: "active"}, "langhook.events.github.>")
	require.NoError(t, err)

	inactive, err := service.Create(ctx, models.DefaultSubscriberID,
		models.CreateSubscriptionRequest{Description: "inactive"}, "langhook.events.stripe.>")
	require.NoError(t, err)
	_, err = service.Update(ctx, models.DefaultSubscriberID, inactive.ID,
		models.UpdateSubscriptionRequest{Active: boolPtr(false)}, nil)
	require.NoError(t, err)

	spent, err := service.Create(ctx, models.DefaultSubscriberID,
		models.CreateSubscriptionRequest{Description: "spent one shot", Disposable: true},
		"langhook.events.jira.>")
	require.NoError(t, err)
	_, err = service.MarkUsed(ctx, spent.ID)
	require.NoError(t, err)

	fresh, err := service.Create(ctx, "someone-else",
		models.CreateSubscriptionRequest{Description: "fresh one shot", Disposable: true},
		"langhook.events.slack.>")
	require.NoError(t, err)

	routable, err := service.ListRoutable(ctx)
	require.NoError(t, err)

	ids := make([]int64, 0, len(routable))
	for _, sub := range routable {
		ids = append(ids, sub.ID)
	}
	assert.Contains(t, ids, active.ID)
	assert.Contains(t, ids, fresh.ID)
	assert.NotContains(t, ids, inactive.ID)
	assert.NotContains(t, ids, spent.ID)
}
