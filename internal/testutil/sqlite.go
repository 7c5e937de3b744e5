package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/shopkeeper/internal/client/migrations"
	_ "modernc.org/sqlite"
)

// NewLocalDB opens a migrated in-memory SQLite database. The pool is pinned
// to one connection because every :memory: connection is its own database.
func NewLocalDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Up(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
