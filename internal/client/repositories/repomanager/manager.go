// Package repomanager opens the local cache database and vends repositories
// bound to either the database or a transaction.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/shopkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/trash"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	Records(db dbx.DBTX) records.Repository
	Trash(db dbx.DBTX) trash.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLiteRepositoryManager vends SQLite-backed repositories.
type SQLiteRepositoryManager struct {
	clock common.Clock
}

func NewSQLiteRepositoryManager(clock common.Clock) *SQLiteRepositoryManager {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &SQLiteRepositoryManager{clock: clock}
}

func (m *SQLiteRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db, m.clock)
}

func (m *SQLiteRepositoryManager) Trash(db dbx.DBTX) trash.Repository {
	return trash.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// migrateUp is a seam for testing migration failures.
var migrateUp = migrations.Up

// OpenDatabase opens (creating if needed) the SQLite file at dsn and applies
// migrations. A single connection keeps writers serialized.
func OpenDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
