package models

import "time"

// DefaultSubscriberID is the placeholder identity used for every
// subscription until real authentication exists.
const DefaultSubscriberID = "default"

// ChannelTypeWebhook is the only supported delivery channel type.
const ChannelTypeWebhook = "webhook"

// Gate failover policies applied when the LLM cannot be reached.
const (
	FailOpen   = "fail_open"
	FailClosed = "fail_closed"
)

// ChannelConfig holds webhook delivery settings for a subscription.
type ChannelConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GateConfig controls per-event LLM filtering for a subscription.
// Prompt is a template; an empty prompt falls back to the built-in
// default template with the subscription description substituted.
type GateConfig struct {
	Enabled        bool   `json:"enabled"`
	Prompt         string `json:"prompt,omitempty"`
	Model          string `json:"model,omitempty"`
	FailoverPolicy string `json:"failover_policy,omitempty"`
}

// FailsOpen reports whether an unreachable LLM should let events through.
func (g *GateConfig) FailsOpen() bool {
	return g == nil || g.FailoverPolicy != FailClosed
}

// Subscription is a stored routing rule: a natural-language description
// compiled into a subject pattern, plus delivery and gate settings.
type Subscription struct {
	ID            int64          `json:"id"`
	SubscriberID  string         `json:"subscriber_id"`
	Description   string         `json:"description"`
	Pattern       string         `json:"pattern"`
	ChannelType   *string        `json:"channel_type,omitempty"`
	ChannelConfig *ChannelConfig `json:"channel_config,omitempty"`
	Active        bool           `json:"active"`
	Disposable    bool           `json:"disposable"`
	Used          bool           `json:"used"`
	Gate          *GateConfig    `json:"gate,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
}

// Routable reports whether the subscription should have a running
// consumer: active and not a spent one-shot.
func (s *Subscription) Routable() bool {
	return s.Active && !(s.Disposable && s.Used)
}

// GateEnabled reports whether events for this subscription pass through
// the LLM gate before delivery.
func (s *Subscription) GateEnabled() bool {
	return s.Gate != nil && s.Gate.Enabled
}

// CreateSubscriptionRequest contains fields for creating a subscription.
type CreateSubscriptionRequest struct {
	Description   string         `json:"description"`
	ChannelType   *string        `json:"channel_type,omitempty"`
	ChannelConfig *ChannelConfig `json:"channel_config,omitempty"`
	Disposable    bool           `json:"disposable,omitempty"`
	Gate          *GateConfig    `json:"gate,omitempty"`
}

// UpdateSubscriptionRequest contains optional fields for updating a
// subscription. A non-nil Description triggers pattern recompilation.
type UpdateSubscriptionRequest struct {
	Description   *string        `json:"description,omitempty"`
	ChannelType   *string        `json:"channel_type,omitempty"`
	ChannelConfig *ChannelConfig `json:"channel_config,omitempty"`
	Active        *bool          `json:"active,omitempty"`
	Disposable    *bool          `json:"disposable,omitempty"`
	Gate          *GateConfig    `json:"gate,omitempty"`
}

// SubscriptionListResponse contains one page of subscriptions.
type SubscriptionListResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Total         int             `json:"total"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
}
