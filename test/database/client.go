package database

import (
	"testing"

	"github.com/langhook/langhook/pkg/database"
	"github.com/langhook/langhook/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: uses a shared testcontainer with a schema per test.
// The schema and connections are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	return util.SetupTestDatabase(t)
}
