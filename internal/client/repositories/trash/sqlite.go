package trash

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
)

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `kind, id, name, deleted_at, data, pending`

func (r *SQLiteRepository) Add(ctx context.Context, userID string, item models.TrashItem) error {
	data := []byte(item.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO trash (user_id, `+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind, id) DO UPDATE SET
			name = excluded.name,
			deleted_at = excluded.deleted_at,
			data = excluded.data,
			pending = excluded.pending`,
		userID, string(item.Type), item.ID, item.Name, item.DeletedAt.UTC().UnixMilli(), data, item.Pending)
	if err != nil {
		return common.Storage("trash add", fmt.Errorf("failed to add trash item %s/%s: %w", item.Type, item.ID, err))
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string, kind models.EntityKind, id string) (models.TrashItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM trash WHERE user_id = ? AND kind = ? AND id = ?`,
		userID, string(kind), id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TrashItem{}, common.ErrNotFound
	}
	if err != nil {
		return models.TrashItem{}, common.Storage("trash get", fmt.Errorf("failed to get trash item %s/%s: %w", kind, id, err))
	}
	return item, nil
}

func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]models.TrashItem, error) {
	return r.query(ctx, "trash list",
		`SELECT `+columns+` FROM trash WHERE user_id = ? ORDER BY deleted_at DESC, id`, userID)
}

func (r *SQLiteRepository) ListPending(ctx context.Context, userID string) ([]models.TrashItem, error) {
	return r.query(ctx, "trash list pending",
		`SELECT `+columns+` FROM trash WHERE user_id = ? AND pending = 1 ORDER BY deleted_at`, userID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID string, kind models.EntityKind, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trash WHERE user_id = ? AND kind = ? AND id = ?`, userID, string(kind), id)
	if err != nil {
		return common.Storage("trash delete", fmt.Errorf("failed to delete trash item %s/%s: %w", kind, id, err))
	}
	return nil
}

// ReplaceSynced runs several statements; callers that need atomicity pass a *sql.Tx.
func (r *SQLiteRepository) ReplaceSynced(ctx context.Context, userID string, items []models.TrashItem) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trash WHERE user_id = ? AND pending = 0`, userID); err != nil {
		return common.Storage("trash replace", fmt.Errorf("failed to clear synced trash: %w", err))
	}
	for _, item := range items {
		pending, err := r.isPending(ctx, userID, item.Type, item.ID)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		item.Pending = false
		if err := r.Add(ctx, userID, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) isPending(ctx context.Context, userID string, kind models.EntityKind, id string) (bool, error) {
	var pending bool
	err := r.db.QueryRowContext(ctx,
		`SELECT pending FROM trash WHERE user_id = ? AND kind = ? AND id = ?`,
		userID, string(kind), id).Scan(&pending)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, common.Storage("trash replace", err)
	}
	return pending, nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trash WHERE user_id = ? AND deleted_at < ?`, userID, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, common.Storage("trash expire", fmt.Errorf("failed to delete expired trash: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.Storage("trash expire", err)
	}
	return n, nil
}

func (r *SQLiteRepository) SetPending(ctx context.Context, userID string, kind models.EntityKind, id string, pending bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trash SET pending = ? WHERE user_id = ? AND kind = ? AND id = ?`,
		pending, userID, string(kind), id)
	if err != nil {
		return common.Storage("trash set pending", fmt.Errorf("failed to flag trash item %s/%s: %w", kind, id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.Storage("trash set pending", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, op, query string, args ...any) ([]models.TrashItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Storage(op, fmt.Errorf("failed to select trash: %w", err))
	}
	defer rows.Close()

	var result []models.TrashItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, common.Storage(op, fmt.Errorf("failed to scan trash row: %w", err))
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Storage(op, fmt.Errorf("failed to iterate trash rows: %w", err))
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (models.TrashItem, error) {
	var (
		item    models.TrashItem
		kind    string
		deleted int64
		data    []byte
	)
	if err := s.Scan(&kind, &item.ID, &item.Name, &deleted, &data, &item.Pending); err != nil {
		return models.TrashItem{}, err
	}
	item.Type = models.EntityKind(kind)
	item.DeletedAt = time.UnixMilli(deleted).UTC()
	item.Data = json.RawMessage(data)
	return item, nil
}
