package models

import "time"

// IngestMapping is a cached transform expression for one payload shape,
// keyed by the shape's fingerprint. Rows are never mutated in place;
// a refreshed mapping is a delete followed by an insert.
type IngestMapping struct {
	Fingerprint    string         `json:"fingerprint"`
	Publisher      string         `json:"publisher"`
	EventName      string         `json:"event_name"`
	MappingExpr    string         `json:"mapping_expr"`
	EventFieldExpr *string        `json:"event_field_expr,omitempty"`
	Structure      map[string]any `json:"structure"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
}
