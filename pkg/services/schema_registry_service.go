package services

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/pkg/models"
)

// SchemaRegistryService tracks every (publisher, resource_type, action)
// triple observed in canonical events. The summary feeds the pattern
// compiler's prompt vocabulary.
type SchemaRegistryService struct {
	db *stdsql.DB
}

// NewSchemaRegistryService creates a new SchemaRegistryService
func NewSchemaRegistryService(client *database.Client) *SchemaRegistryService {
	return &SchemaRegistryService{db: client.DB()}
}

// Register records one observed triple. Re-registering a known triple is
// a no-op.
func (s *SchemaRegistryService) Register(ctx context.Context, publisher, resourceType, action string) error {
	if strings.TrimSpace(publisher) == "" {
		return NewValidationError("publisher", "required")
	}
	if strings.TrimSpace(resourceType) == "" {
		return NewValidationError("resource_type", "required")
	}
	if strings.TrimSpace(action) == "" {
		return NewValidationError("action", "required")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO event_schema_registry (publisher, resource_type, action)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (publisher, resource_type, action) DO NOTHING`,
		publisher, resourceType, action,
	); err != nil {
		return fmt.Errorf("failed to register schema triple: %w", err)
	}
	return nil
}

// Summary rolls the registry up into sorted distinct publishers, the
// resource types seen per publisher, and all distinct actions.
func (s *SchemaRegistryService) Summary(ctx context.Context) (*models.SchemaSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT publisher, resource_type, action
		 FROM event_schema_registry
		 ORDER BY publisher, resource_type, action`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema registry: %w", err)
	}
	defer rows.Close()

	summary := &models.SchemaSummary{
		Publishers:    []string{},
		ResourceTypes: map[string][]string{},
		Actions:       []string{},
	}
	seenActions := map[string]bool{}

	for rows.Next() {
		var publisher, resourceType, action string
		if err := rows.Scan(&publisher, &resourceType, &action); err != nil {
			return nil, fmt.Errorf("failed to scan schema triple: %w", err)
		}

		types := summary.ResourceTypes[publisher]
		if types == nil {
			summary.Publishers = append(summary.Publishers, publisher)
		}
		if len(types) == 0 || types[len(types)-1] != resourceType {
			summary.ResourceTypes[publisher] = append(types, resourceType)
		}
		if !seenActions[action] {
			seenActions[action] = true
			summary.Actions = append(summary.Actions, action)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schema registry: %w", err)
	}

	// Rows come back publisher-major, so actions need their own sort.
	sort.Strings(summary.Actions)
	return summary, nil
}
