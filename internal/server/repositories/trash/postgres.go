package trash

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Put(ctx context.Context, e models.TrashEntry) error {
	query :=
		`INSERT INTO trash (user_id, kind, id, name, data, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, kind, id)
		 DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, deleted_at = EXCLUDED.deleted_at
		 `

	_, err := r.db.ExecContext(ctx, query, e.UserID, e.Kind, e.ID, e.Name, string(e.Data), e.DeletedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, kind, id string) (models.TrashEntry, error) {
	query :=
		`SELECT name, data, deleted_at FROM trash
		 WHERE user_id = $1 AND kind = $2 AND id = $3
		 `

	e := models.TrashEntry{UserID: userID, Kind: kind, ID: id}
	err := r.db.QueryRowContext(ctx, query, userID, kind, id).Scan(&e.Name, &e.Data, &e.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TrashEntry{}, common.ErrNotFound
		}
		return models.TrashEntry{}, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]models.TrashEntry, error) {
	query :=
		`SELECT kind, id, name, data, deleted_at FROM trash
		 WHERE user_id = $1
		 ORDER BY deleted_at DESC
		 `
	return r.query(ctx, userID, query, userID)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, userID string, before time.Time) ([]models.TrashEntry, error) {
	query :=
		`SELECT kind, id, name, data, deleted_at FROM trash
		 WHERE user_id = $1 AND deleted_at < $2
		 ORDER BY deleted_at
		 `
	return r.query(ctx, userID, query, userID, before)
}

func (r *PostgresRepository) query(ctx context.Context, userID, query string, args ...any) ([]models.TrashEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.TrashEntry
	for rows.Next() {
		e := models.TrashEntry{UserID: userID}
		if err := rows.Scan(&e.Kind, &e.ID, &e.Name, &e.Data, &e.DeletedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, kind, id string) (bool, error) {
	query :=
		`DELETE FROM trash
		 WHERE user_id = $1 AND kind = $2 AND id = $3
		 `

	res, err := r.db.ExecContext(ctx, query, userID, kind, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, userID string, before time.Time) (int, error) {
	query :=
		`DELETE FROM trash
		 WHERE user_id = $1 AND deleted_at < $2
		 `

	res, err := r.db.ExecContext(ctx, query, userID, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}
