package models

import (
	"strconv"
	"time"
)

// Action is the canonical past-tense verb describing what happened to a
// resource. Transform output may use present tense; NormalizeAction maps
// it to this enum before validation.
type Action string

const (
	ActionCreated Action = "created"
	ActionRead    Action = "read"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// NormalizeAction maps present-tense verbs emitted by transforms to the
// canonical past-tense form. Unknown verbs are returned unchanged so that
// validation can reject them with the original value in the error.
func NormalizeAction(raw string) Action {
	switch raw {
	case "create":
		return ActionCreated
	case "update":
		return ActionUpdated
	case "delete":
		return ActionDeleted
	case "read":
		return ActionRead
	}
	return Action(raw)
}

// Valid reports whether the action is one of the four canonical verbs.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionRead, ActionUpdated, ActionDeleted:
		return true
	}
	return false
}

// RawEvent is the record published on the raw stream for every accepted
// webhook. SignatureValid is nil when no secret is configured for the
// source, true/false when verification ran.
type RawEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	SignatureValid *bool             `json:"signature_valid"`
	Headers        map[string]string `json:"headers"`
	Payload        map[string]any    `json:"payload"`
}

// Resource identifies the entity a canonical event concerns. ID is a
// scalar (string or number) and must not contain '/', '#', or space.
type Resource struct {
	Type string `json:"type"`
	ID   any    `json:"id"`
}

// IDString renders the resource id for use in subjects and log rows.
// JSON numbers arrive as float64; integral values render without a
// fractional part.
func (r Resource) IDString() string {
	switch v := r.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	return ""
}

// CanonicalEvent is the normalised form every raw event is mapped into.
// Payload carries the original raw body.
type CanonicalEvent struct {
	Publisher string         `json:"publisher"`
	Resource  Resource       `json:"resource"`
	Action    Action         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Envelope is the CloudEvents-style wrapper published on the canonical
// stream. Type is "com.<publisher>.<resource_type>.<action>" and Subject
// is "<resource_type>/<resource_id>" after one-step path resolution.
type Envelope struct {
	ID          string         `json:"id"`
	SpecVersion string         `json:"specversion"`
	Source      string         `json:"source"`
	Type        string         `json:"type"`
	Subject     string         `json:"subject"`
	Time        string         `json:"time"`
	Data        CanonicalEvent `json:"data"`
}

// MappingFailure is the dead-letter record published when a raw event
// cannot be canonicalised. Payload is the parsed body when available,
// or the raw request body string for malformed JSON.
type MappingFailure struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Error     string `json:"error"`
	Payload   any    `json:"payload"`
}
