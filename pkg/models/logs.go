package models

import "time"

// EventLog is one canonical event as recorded in the append-only query
// log, with routing fields denormalised for filtering.
type EventLog struct {
	ID            int64          `json:"id"`
	EventID       string         `json:"event_id"`
	Source        string         `json:"source"`
	Subject       string         `json:"subject"`
	Publisher     string         `json:"publisher"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Action        string         `json:"action"`
	CanonicalData map[string]any `json:"canonical_data"`
	RawPayload    map[string]any `json:"raw_payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	LoggedAt      time.Time      `json:"logged_at"`
}

// SubscriptionEventLog records the outcome of routing one canonical
// event to one subscription: gate verdict, webhook attempt, HTTP status.
// WebhookResponseStatus is nil when no attempt was made or the attempt
// failed at the transport level.
type SubscriptionEventLog struct {
	ID                    int64          `json:"id"`
	SubscriptionID        int64          `json:"subscription_id"`
	EventID               string         `json:"event_id"`
	Source                string         `json:"source"`
	Subject               string         `json:"subject"`
	Publisher             string         `json:"publisher"`
	ResourceType          string         `json:"resource_type"`
	ResourceID            string         `json:"resource_id"`
	Action                string         `json:"action"`
	CanonicalData         map[string]any `json:"canonical_data"`
	Timestamp             time.Time      `json:"timestamp"`
	WebhookSent           bool           `json:"webhook_sent"`
	WebhookResponseStatus *int           `json:"webhook_response_status,omitempty"`
	GatePassed            *bool          `json:"gate_passed,omitempty"`
	GateReason            *string        `json:"gate_reason,omitempty"`
	LoggedAt              time.Time      `json:"logged_at"`
}

// EventLogFilters contains filtering options for querying event logs.
type EventLogFilters struct {
	Source       string     `json:"source,omitempty"`
	Publisher    string     `json:"publisher,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	Action       string     `json:"action,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	Page         int        `json:"page,omitempty"`
	Size         int        `json:"size,omitempty"`
}

// EventLogListResponse contains one page of event log rows.
type EventLogListResponse struct {
	Events []*EventLog `json:"events"`
	Total  int         `json:"total"`
	Page   int         `json:"page"`
	Size   int         `json:"size"`
}

// SubscriptionEventListResponse contains one page of per-subscription
// delivery records.
type SubscriptionEventListResponse struct {
	Events []*SubscriptionEventLog `json:"events"`
	Total  int                     `json:"total"`
	Page   int                     `json:"page"`
	Size   int                     `json:"size"`
}
