package repomanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestOpenDatabase_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	db, err := OpenDatabase(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"goose_db_version", "records", "trash", "metadata"} {
		require.True(t, tableExists(t, db, name), name)
	}
}

func TestOpenDatabase_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	db, err := OpenDatabase(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDatabase(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenDatabase_MigrationErrorClosesDB(t *testing.T) {
	old := migrateUp
	t.Cleanup(func() { migrateUp = old })
	migrateUp = func(context.Context, *sql.DB) error { return errors.New("boom") }

	_, err := OpenDatabase(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	require.EqualError(t, err, "boom")
}

func TestManager_RepositoriesShareTransaction(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewSQLiteRepositoryManager(nil)
	data := json.RawMessage(`{"id":"dev-7","brand":"Moto"}`)

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.Records(tx).Remove(ctx, "u1", "devices", "dev-7"); err != nil {
			return err
		}
		if err := m.Trash(tx).Add(ctx, "u1", models.TrashItem{ID: "dev-7", Type: models.KindDevice, Data: data}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	items, err := m.Trash(db).List(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, m.Metadata(db).Set(ctx, "k", []byte("v")))
}
