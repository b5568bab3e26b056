package rbac

import (
	"os"
	"testing"
)

// SkipIfNoDatabase skips the test unless TEST_POSTGRES_PRIMARY is set. This
// lets integration tests run in CI where postgres is available and skip
// locally when it is not.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test in short mode or when postgres is
// not available.
func SkipIfNoDatabaseOrShort(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}
