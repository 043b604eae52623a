package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/models"
)

const subscriptionColumns = `id, subscriber_id, description, pattern, channel_type, channel_config, active, disposable, used, gate, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SubscriptionService manages stored subscriptions
type SubscriptionService struct {
	db *stdsql.DB
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(client *database.Client) *SubscriptionService {
	return &SubscriptionService{db: client.DB()}
}

// Create stores a new subscription under subscriberID. The pattern is the
// compiled subject filter for the subscription's description.
func (s *SubscriptionService) Create(ctx context.Context, subscriberID string, req models.CreateSubscriptionRequest, pattern string) (*models.Subscription, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, NewValidationError("description", "required")
	}
	if strings.TrimSpace(pattern) == "" {
		return nil, NewValidationError("pattern", "required")
	}
	if err := validateChannel(req.ChannelType, req.ChannelConfig); err != nil {
		return nil, err
	}
	if err := validateGate(req.Gate); err != nil {
		return nil, err
	}

	channelConfig, err := encodeChannelConfig(req.ChannelConfig)
	if err != nil {
		return nil, err
	}
	gate, err := encodeGate(req.Gate)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (subscriber_id, description, pattern, channel_type, channel_config, disposable, gate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+subscriptionColumns,
		subscriberID, req.Description, pattern, req.ChannelType, channelConfig, req.Disposable, gate, time.Now().UTC(),
	)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// Get returns one subscription or ErrNotFound.
func (s *SubscriptionService) Get(ctx context.Context, subscriberID string, id int64) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 AND subscriber_id = $2`,
		id, subscriberID,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// List returns one page of a subscriber's subscriptions, newest first.
func (s *SubscriptionService) List(ctx context.Context, subscriberID string, page, size int) (*models.SubscriptionListResponse, error) {
	page, size = normalizePage(page, size)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE subscriber_id = $1`, subscriberID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE subscriber_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		subscriberID, size, (page-1)*size,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*models.Subscription, 0, size)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}

	return &models.SubscriptionListResponse{
		Subscriptions: subs,
		Total:         total,
		Page:          page,
		Size:          size,
	}, nil
}

// ListRoutable returns every subscription that should have a running
// consumer: active and not a spent one-shot. Used by the supervisor's
// reconcile pass.
func (s *SubscriptionService) ListRoutable(ctx context.Context) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE active AND NOT (disposable AND used)
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list routable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return subs, nil
}

// Update applies a partial update. newPattern carries the recompiled
// pattern and must be set exactly when req.Description is.
func (s *SubscriptionService) Update(ctx context.Context, subscriberID string, id int64, req models.UpdateSubscriptionRequest, newPattern *string) (*models.Subscription, error) {
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		return nil, NewValidationError("description", "cannot be empty")
	}
	if req.Description != nil && (newPattern == nil || strings.TrimSpace(*newPattern) == "") {
		return nil, NewValidationError("pattern", "required when description changes")
	}
	if err := validateChannel(req.ChannelType, req.ChannelConfig); err != nil {
		return nil, err
	}
	if err := validateGate(req.Gate); err != nil {
		return nil, err
	}

	set := make([]string, 0, 8)
	args := make([]any, 0, 10)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Description != nil {
		add("description", *req.Description)
		add("pattern", *newPattern)
	}
	if req.ChannelType != nil {
		add("channel_type", *req.ChannelType)
	}
	if req.ChannelConfig != nil {
		channelConfig, err := encodeChannelConfig(req.ChannelConfig)
		if err != nil {
			return nil, err
		}
		add("channel_config", channelConfig)
	}
	if req.Active != nil {
		add("active", *req.Active)
	}
	if req.Disposable != nil {
		add("disposable", *req.Disposable)
	}
	if req.Gate != nil {
		gate, err := encodeGate(req.Gate)
		if err != nil {
			return nil, err
		}
		add("gate", gate)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id, subscriberID)
	query := fmt.Sprintf(
		`UPDATE subscriptions SET %s WHERE id = $%d AND subscriber_id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args)-1, len(args), subscriptionColumns,
	)

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// Delete removes a subscription permanently.
func (s *SubscriptionService) Delete(ctx context.Context, subscriberID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE id = $1 AND subscriber_id = $2`, id, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsed retires a disposable subscription after its first delivery.
// Returns true when this call performed the retirement; false when the
// subscription was already used, not disposable, or gone.
func (s *SubscriptionService) MarkUsed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET used = TRUE, updated_at = $1
		 WHERE id = $2 AND disposable AND NOT used`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark subscription used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	return affected == 1, nil
}

func validateChannel(channelType *string, cfg *models.ChannelConfig) error {
	if channelType == nil {
		return nil
	}
	if *channelType != models.ChannelTypeWebhook {
		return NewValidationError("channel_type", fmt.Sprintf("unsupported channel type %q, only %q is supported", *channelType, models.ChannelTypeWebhook))
	}
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return NewValidationError("channel_config", "url is required for webhook channels")
	}
	return nil
}

func validateGate(g *models.GateConfig) error {
	if g == nil || g.FailoverPolicy == "" {
		return nil
	}
	if g.FailoverPolicy != models.FailOpen && g.FailoverPolicy != models.FailClosed {
		return NewValidationError("gate.failover_policy", fmt.Sprintf("must be %q or %q", models.FailOpen, models.FailClosed))
	}
	return nil
}

func encodeChannelConfig(cc *models.ChannelConfig) (*string, error) {
	if cc == nil {
		return nil, nil
	}
	data, err := json.Marshal(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel config: %w", err)
	}
	encoded := string(data)
	return &encoded, nil
}

func encodeGate(g *models.GateConfig) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gate config: %w", err)
	}
	return data, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub           models.Subscription
		channelType   stdsql.NullString
		channelConfig stdsql.NullString
		gate          []byte
		updatedAt     stdsql.NullTime
	)
	if err := row.Scan(
		&sub.ID, &sub.SubscriberID, &sub.Description, &sub.Pattern,
		&channelType, &channelConfig, &sub.Active, &sub.Disposable, &sub.Used,
		&gate, &sub.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if channelType.Valid {
		sub.ChannelType = &channelType.String
	}
	if channelConfig.Valid && channelConfig.String != "" {
		var cc models.ChannelConfig
		if err := json.Unmarshal([]byte(channelConfig.String), &cc); err != nil {
			return nil, fmt.Errorf("failed to decode channel config: %w", err)
		}
		sub.ChannelConfig = &cc
	}
	if len(gate) > 0 {
		var g models.GateConfig
		if err := json.Unmarshal(gate, &g); err != nil {
			return nil, fmt.Errorf("failed to decode gate config: %w", err)
		}
		sub.Gate = &g
	}
	if updatedAt.Valid {
		at := updatedAt.Time
		sub.UpdatedAt = &at
	}
	return &sub, nil
}
