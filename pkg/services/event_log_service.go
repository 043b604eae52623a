package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/models"
)

const eventLogColumns = `id, event_id, source, subject, publisher, resource_type, resource_id, action, canonical_data, raw_payload, timestamp, logged_at`

const subscriptionEventLogColumns = `id, subscription_id, event_id, source, subject, publisher, resource_type, resource_id, action, canonical_data, timestamp, webhook_sent, webhook_response_status, gate_passed, gate_reason, logged_at`

// EventLogService is the append-only query log: every canonical event,
// plus a per-subscription record of each routing decision and delivery.
type EventLogService struct {
	db *stdsql.DB
}

// NewEventLogService creates a new EventLogService
func NewEventLogService(client *database.Client) *EventLogService {
	return &EventLogService{db: client.DB()}
}

// RecordEvent appends one canonical event to the log. The row id and
// logged_at are filled in on the passed struct.
func (s *EventLogService) RecordEvent(ctx context.Context, log *models.EventLog) error {
	if strings.TrimSpace(log.EventID) == "" {
		return NewValidationError("event_id", "required")
	}
	if log.CanonicalData == nil {
		return NewValidationError("canonical_data", "required")
	}

	canonicalData, err := json.Marshal(log.CanonicalData)
	if err != nil {
		return fmt.Errorf("failed to encode canonical data: %w", err)
	}
	rawPayload, err := encodeNullableJSON(log.RawPayload)
	if err != nil {
		return fmt.Errorf("failed to encode raw payload: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO event_logs (event_id, source, subject, publisher, resource_type, resource_id, action, canonical_data, raw_payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, logged_at`,
		log.EventID, log.Source, log.Subject, log.Publisher, log.ResourceType,
		log.ResourceID, log.Action, canonicalData, rawPayload, log.Timestamp,
	).Scan(&log.ID, &log.LoggedAt); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecordSubscriptionEvent appends the routing outcome of one event for
// one subscription. The row id and logged_at are filled in on the
// passed struct.
func (s *EventLogService) RecordSubscriptionEvent(ctx context.Context, log *models.SubscriptionEventLog) error {
	if log.SubscriptionID == 0 {
		return NewValidationError("subscription_id", "required")
	}
	if strings.TrimSpace(log.EventID) == "" {
		return NewValidationError("event_id", "required")
	}

	canonicalData, err := json.Marshal(log.CanonicalData)
	if err != nil {
		return fmt.Errorf("failed to encode canonical data: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscription_event_logs (subscription_id, event_id, source, subject, publisher, resource_type, resource_id, action, canonical_data, timestamp, webhook_sent, webhook_response_status, gate_passed, gate_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, logged_at`,
		log.SubscriptionID, log.EventID, log.Source, log.Subject, log.Publisher,
		log.ResourceType, log.ResourceID, log.Action, canonicalData, log.Timestamp,
		log.WebhookSent, log.WebhookResponseStatus, log.GatePassed, log.GateReason,
	).Scan(&log.ID, &log.LoggedAt); err != nil {
		return fmt.Errorf("failed to record subscription event: %w", err)
	}
	return nil
}

// ListEvents returns one page of the canonical event log, newest first,
// narrowed by any filters set.
func (s *EventLogService) ListEvents(ctx context.Context, filters models.EventLogFilters) (*models.EventLogListResponse, error) {
	page, size := normalizePage(filters.Page, filters.Size)

	conds := make([]string, 0, 5)
	args := make([]any, 0, 7)
	addFilter := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.Source != "" {
		addFilter("source = $%d", filters.Source)
	}
	if filters.Publisher != "" {
		addFilter("publisher = $%d", filters.Publisher)
	}
	if filters.ResourceType != "" {
		addFilter("resource_type = $%d", filters.ResourceType)
	}
	if filters.Action != "" {
		addFilter("action = $%d", filters.Action)
	}
	if filters.Since != nil {
		addFilter("timestamp >= $%d", *filters.Since)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_logs`+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count event logs: %w", err)
	}

	args = append(args, size, (page-1)*size)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM event_logs%s ORDER BY logged_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			eventLogColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	defer rows.Close()

	events := make([]*models.EventLog, 0, size)
	for rows.Next() {
		event, err := scanEventLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event logs: %w", err)
	}

	return &models.EventLogListResponse{
		Events: events,
		Total:  total,
		Page:   page,
		Size:   size,
	}, nil
}

// ListSubscriptionEvents returns one page of a subscription's delivery
// records, newest first.
func (s *EventLogService) ListSubscriptionEvents(ctx context.Context, subscriptionID int64, page, size int) (*models.SubscriptionEventListResponse, error) {
	page, size = normalizePage(page, size)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscription_event_logs WHERE subscription_id = $1`, subscriptionID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count subscription events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionEventLogColumns+` FROM subscription_event_logs
		 WHERE subscription_id = $1
		 ORDER BY logged_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		subscriptionID, size, (page-1)*size,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SubscriptionEventLog, 0, size)
	for rows.Next() {
		event, err := scanSubscriptionEventLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscription events: %w", err)
	}

	return &models.SubscriptionEventListResponse{
		Events: events,
		Total:  total,
		Page:   page,
		Size:   size,
	}, nil
}

func encodeNullableJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanEventLog(row rowScanner) (*models.EventLog, error) {
	var (
		event         models.EventLog
		canonicalData []byte
		rawPayload    []byte
	)
	if err := row.Scan(
		&event.ID, &event.EventID, &event.Source, &event.Subject,
		&event.Publisher, &event.ResourceType, &event.ResourceID, &event.Action,
		&canonicalData, &rawPayload, &event.Timestamp, &event.LoggedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(canonicalData, &event.CanonicalData); err != nil {
		return nil, fmt.Errorf("failed to decode canonical data: %w", err)
	}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &event.RawPayload); err != nil {
			return nil, fmt.Errorf("failed to decode raw payload: %w", err)
		}
	}
	return &event, nil
}

func scanSubscriptionEventLog(row rowScanner) (*models.SubscriptionEventLog, error) {
	var (
		event          models.SubscriptionEventLog
		canonicalData  []byte
		responseStatus stdsql.NullInt64
		gatePassed     stdsql.NullBool
		gateReason     stdsql.NullString
	)
	if err := row.Scan(
		&event.ID, &event.SubscriptionID, &event.EventID, &event.Source,
		&event.Subject, &event.Publisher, &event.ResourceType, &event.ResourceID,
		&event.Action, &canonicalData, &event.Timestamp, &event.WebhookSent,
		&responseStatus, &gatePassed, &gateReason, &event.LoggedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(canonicalData, &event.CanonicalData); err != nil {
		return nil, fmt.Errorf("failed to decode canonical data: %w", err)
	}
	if responseStatus.Valid {
		status := int(responseStatus.Int64)
		event.WebhookResponseStatus = &status
	}
	if gatePassed.Valid {
		passed := gatePassed.Bool
		event.GatePassed = &passed
	}
	if gateReason.Valid {
		reason := gateReason.String
		event.GateReason = &reason
	}
	return &event, nil
}
