// Package canonical validates transform output against the canonical
// event contract and derives the routing subject and delivery envelope
// from a validated event.
package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/langhook/langhook/pkg/models"
)

// SubjectPrefix is the root of the canonical event subject space.
const SubjectPrefix = "langhook.events"

// MapFailSubject carries mapping-failure records.
const MapFailSubject = "langhook.map_fail"

// SpecVersion is the envelope spec version stamped on every delivery.
const SpecVersion = "1.0"

// resourceIDForbidden are characters that would corrupt subjects or
// envelope subject paths if they appeared in a resource id.
const resourceIDForbidden = "/# "

// Validate checks transform output against the canonical event contract
// and returns the typed event. The action is normalised from present to
// past tense before the enum check. The caller attaches the original
// payload afterwards.
func Validate(output any) (*models.CanonicalEvent, error) {
	obj, ok := output.(map[string]any)
	if !ok || obj == nil {
		return nil, fmt.Errorf("invalid canonical event: transform output is not an object")
	}

	publisher, ok := obj["publisher"].(string)
	if !ok || publisher == "" {
		return nil, fmt.Errorf("invalid canonical event: field 'publisher' must be a non-empty string")
	}

	rawResource, ok := obj["resource"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid canonical event: field 'resource' must be an object")
	}
	resourceType, ok := rawResource["type"].(string)
	if !ok || resourceType == "" {
		return nil, fmt.Errorf("invalid canonical event: field 'resource.type' must be a non-empty string")
	}
	resourceID, ok := rawResource["id"]
	if !ok {
		return nil, fmt.Errorf("invalid canonical event: field 'resource.id' is required")
	}
	switch id := resourceID.(type) {
	case string:
		if id == "" {
			return nil, fmt.Errorf("invalid canonical event: field 'resource.id' must not be empty")
		}
		if strings.ContainsAny(id, resourceIDForbidden) {
			return nil, fmt.Errorf("invalid canonical event: field 'resource.id' must not contain '/', '#', or space")
		}
	case float64:
		// numeric ids are always acceptable
	default:
		return nil, fmt.Errorf("invalid canonical event: field 'resource.id' must be a string or number")
	}

	rawAction, ok := obj["action"].(string)
	if !ok || rawAction == "" {
		return nil, fmt.Errorf("invalid canonical event: field 'action' must be a non-empty string")
	}
	action := models.NormalizeAction(rawAction)
	if !action.Valid() {
		return nil, fmt.Errorf("invalid canonical event: action %q must be one of created, read, updated, deleted", rawAction)
	}

	timestamp, ok := obj["timestamp"].(string)
	if !ok || timestamp == "" {
		return nil, fmt.Errorf("invalid canonical event: field 'timestamp' must be a non-empty string")
	}

	return &models.CanonicalEvent{
		Publisher: publisher,
		Resource:  models.Resource{Type: resourceType, ID: resourceID},
		Action:    action,
		Timestamp: timestamp,
	}, nil
}

// ResolveResourceID applies the one-step path resolution used for
// subjects: when the id is a dotted string that resolves to a scalar in
// the original payload, the resolved value is substituted; otherwise
// the literal id is kept.
func ResolveResourceID(id any, payload map[string]any) any {
	path, ok := id.(string)
	if !ok || !strings.Contains(path, ".") || payload == nil {
		return id
	}
	var current any = payload
	for _, step := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return id
		}
		if current, ok = obj[step]; !ok {
			return id
		}
	}
	switch current.(type) {
	case string, float64, bool:
		return current
	}
	return id
}

// resolvedIDString renders the subject-id portion for an event.
func resolvedIDString(event *models.CanonicalEvent) string {
	resolved := models.Resource{
		Type: event.Resource.Type,
		ID:   ResolveResourceID(event.Resource.ID, event.Payload),
	}
	return resolved.IDString()
}

// RoutingSubject builds the subject a canonical event is published on:
// langhook.events.<publisher>.<resource_type>.<resource_id>.<action>.
func RoutingSubject(event *models.CanonicalEvent) string {
	return fmt.Sprintf("%s.%s.%s.%s.%s",
		SubjectPrefix, event.Publisher, event.Resource.Type, resolvedIDString(event), event.Action)
}

// Envelope wraps a validated event for publication on the canonical
// stream.
func Envelope(eventID string, event *models.CanonicalEvent, now time.Time) *models.Envelope {
	return &models.Envelope{
		ID:          eventID,
		SpecVersion: SpecVersion,
		Source:      "/" + event.Publisher,
		Type:        fmt.Sprintf("com.%s.%s.%s", event.Publisher, event.Resource.Type, event.Action),
		Subject:     fmt.Sprintf("%s/%s", event.Resource.Type, resolvedIDString(event)),
		Time:        now.UTC().Format(time.RFC3339Nano),
		Data:        *event,
	}
}

// EventName renders the human-readable name stored on ingest mappings,
// e.g. "pull_request created".
func EventName(event *models.CanonicalEvent) string {
	return fmt.Sprintf("%s %s", event.Resource.Type, event.Action)
}
