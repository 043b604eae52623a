package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher broadcasts subscription changes via pg_notify. Notifications
// are fired after the subscription write has committed; they carry no
// state of their own, so delivery is best-effort.
type Publisher struct {
	db      *sql.DB
	channel string
}

// NewPublisher creates a Publisher on the given NOTIFY channel.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewPublisher(db *sql.DB, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{db: db, channel: channel}
}

// NotifyCreated broadcasts that a subscription was created.
func (p *Publisher) NotifyCreated(ctx context.Context, subscriptionID int64, subscriberID string) error {
	return p.notify(ctx, ChangeCreated, subscriptionID, subscriberID)
}

// NotifyUpdated broadcasts that a subscription was updated.
func (p *Publisher) NotifyUpdated(ctx context.Context, subscriptionID int64, subscriberID string) error {
	return p.notify(ctx, ChangeUpdated, subscriptionID, subscriberID)
}

// NotifyDeleted broadcasts that a subscription was deleted.
func (p *Publisher) NotifyDeleted(ctx context.Context, subscriptionID int64, subscriberID string) error {
	return p.notify(ctx, ChangeDeleted, subscriptionID, subscriberID)
}

func (p *Publisher) notify(ctx context.Context, changeType string, subscriptionID int64, subscriberID string) error {
	payload, err := json.Marshal(ChangeNotification{
		Type:           changeType,
		SubscriptionID: subscriptionID,
		SubscriberID:   subscriberID,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal change notification: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
