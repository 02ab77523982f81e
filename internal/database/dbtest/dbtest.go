// Package dbtest provides migrated in-memory databases for tests. It
// uses the pure-Go SQLite driver so tests run without cgo.
package dbtest

import (
	"database/sql"
	"testing"

	"github.com/nugget/luminary/internal/database"
	_ "modernc.org/sqlite"
)

// New returns an empty, fully migrated in-memory database that is
// closed when the test ends.
func New(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
