// Package events distributes subscription-change notifications between
// processes via PostgreSQL NOTIFY/LISTEN.
//
// The API process mutates subscription rows and then notifies; every
// router process holds a dedicated LISTEN connection and reconciles its
// running consumers when a change arrives. Notifications are a wake-up
// signal only: the subscription row in the database is the source of
// truth, and the router re-reads it on every change. A lost notification
// is therefore harmless — the router's periodic reconcile pass picks the
// change up on its next sweep.
package events

import "time"

// Subscription change types carried in ChangeNotification.Type.
const (
	ChangeCreated = "subscription.created"
	ChangeUpdated = "subscription.updated"
	ChangeDeleted = "subscription.deleted"
)

// DefaultChannel is the NOTIFY channel subscription changes are sent on.
// NOTIFY channels are database-global, not schema-scoped, so deployments
// sharing one database must override it per instance.
const DefaultChannel = "langhook_subscription_changes"

// ChangeNotification is the NOTIFY payload for one subscription mutation.
type ChangeNotification struct {
	Type           string    `json:"type"`
	SubscriptionID int64     `json:"subscription_id"`
	SubscriberID   string    `json:"subscriber_id,omitempty"`
	At             time.Time `json:"at"`
}
