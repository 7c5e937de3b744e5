package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) List(ctx context.Context, userID, store string) ([]models.Entity, error) {
	query :=
		`SELECT key, data, updated_at FROM entities
		 WHERE user_id = $1 AND store = $2
		 ORDER BY updated_at
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, store)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Entity
	for rows.Next() {
		e := models.Entity{UserID: userID, Store: store}
		if err := rows.Scan(&e.Key, &e.Data, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, store, key string) (models.Entity, error) {
	query :=
		`SELECT data, updated_at FROM entities
		 WHERE user_id = $1 AND store = $2 AND key = $3
		 `

	e := models.Entity{UserID: userID, Store: store, Key: key}
	err := r.db.QueryRowContext(ctx, query, userID, store, key).Scan(&e.Data, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Entity{}, common.ErrNotFound
		}
		return models.Entity{}, fmt.Errorf("db error: %w", err)
	}

	return e, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, e models.Entity) error {
	query :=
		`INSERT INTO entities (user_id, store, key, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, store, key)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		 `

	_, err := r.db.ExecContext(ctx, query, e.UserID, e.Store, e.Key, string(e.Data), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, store, key string) (bool, error) {
	query :=
		`DELETE FROM entities
		 WHERE user_id = $1 AND store = $2 AND key = $3
		 `

	res, err := r.db.ExecContext(ctx, query, userID, store, key)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}
