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

const ingestMappingColumns = `fingerprint, publisher, event_name, mapping_expr, event_field_expr, structure, created_at, updated_at`

// IngestMappingService is the cache of synthesised transform expressions,
// keyed by payload-shape fingerprint.
type IngestMappingService struct {
	db *stdsql.DB
}

// NewIngestMappingService creates a new IngestMappingService
func NewIngestMappingService(client *database.Client) *IngestMappingService {
	return &IngestMappingService{db: client.DB()}
}

// GetByFingerprint returns the cached mapping for a payload shape, or
// ErrNotFound when no mapping has been synthesised yet.
func (s *IngestMappingService) GetByFingerprint(ctx context.Context, fingerprint string) (*models.IngestMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ingestMappingColumns+` FROM ingest_mappings WHERE fingerprint = $1`,
		fingerprint,
	)

	mapping, err := scanIngestMapping(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ingest mapping: %w", err)
	}
	return mapping, nil
}

// Save stores a mapping, replacing any previous row for the same
// fingerprint. The replace runs as delete plus insert in one transaction
// so concurrent readers never see a partial row.
func (s *IngestMappingService) Save(ctx context.Context, mapping *models.IngestMapping) error {
	if strings.TrimSpace(mapping.Fingerprint) == "" {
		return NewValidationError("fingerprint", "required")
	}
	if strings.TrimSpace(mapping.Publisher) == "" {
		return NewValidationError("publisher", "required")
	}
	if strings.TrimSpace(mapping.EventName) == "" {
		return NewValidationError("event_name", "required")
	}
	if strings.TrimSpace(mapping.MappingExpr) == "" {
		return NewValidationError("mapping_expr", "required")
	}

	structure, err := json.Marshal(mapping.Structure)
	if err != nil {
		return fmt.Errorf("failed to encode payload structure: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ingest_mappings WHERE fingerprint = $1`, mapping.Fingerprint,
	); err != nil {
		return fmt.Errorf("failed to clear previous mapping: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_mappings (fingerprint, publisher, event_name, mapping_expr, event_field_expr, structure, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mapping.Fingerprint, mapping.Publisher, mapping.EventName,
		mapping.MappingExpr, mapping.EventFieldExpr, structure, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert ingest mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest mapping: %w", err)
	}
	return nil
}

// Count returns the number of cached mappings.
func (s *IngestMappingService) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingest_mappings`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count ingest mappings: %w", err)
	}
	return total, nil
}

func scanIngestMapping(row rowScanner) (*models.IngestMapping, error) {
	var (
		mapping        models.IngestMapping
		eventFieldExpr stdsql.NullString
		structure      []byte
		updatedAt      stdsql.NullTime
	)
	if err := row.Scan(
		&mapping.Fingerprint, &mapping.Publisher, &mapping.EventName,
		&mapping.MappingExpr, &eventFieldExpr, &structure,
		&mapping.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if eventFieldExpr.Valid {
		mapping.EventFieldExpr = &eventFieldExpr.String
	}
	if len(structure) > 0 {
		if err := json.Unmarshal(structure, &mapping.Structure); err != nil {
			return nil, fmt.Errorf("failed to decode payload structure: %w", err)
		}
	}
	if updatedAt.Valid {
		at := updatedAt.Time
		mapping.UpdatedAt = &at
	}
	return &mapping, nil
}
