package records

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

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db    dbx.DBTX
	clock common.Clock
}

func NewSQLiteRepository(db dbx.DBTX, clock common.Clock) *SQLiteRepository {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &SQLiteRepository{db: db, clock: clock}
}

const selectColumns = `user_id, store, item_key, payload, server_id, pending_sync, pending_delete, updated_at`

func (r *SQLiteRepository) now() int64 {
	return r.clock.Now().UTC().UnixMilli()
}

func payloadBytes(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("null")
	}
	return []byte(p)
}

func (r *SQLiteRepository) Put(ctx context.Context, userID, store, key string, payload json.RawMessage) error {
	query := `INSERT INTO records (composite_key, user_id, store, item_key, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(composite_key) DO UPDATE SET
			payload = excluded.payload,
			pending_delete = 0,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		models.CompositeKey(userID, store, key), userID, store, key, payloadBytes(payload), r.now())
	if err != nil {
		return common.Storage("put", fmt.Errorf("failed to put record %s/%s: %w", store, key, err))
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, store, key string) (models.CacheRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE composite_key = ?`,
		models.CompositeKey(userID, store, key))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheRecord{}, common.ErrNotFound
	}
	if err != nil {
		return models.CacheRecord{}, common.Storage("get", fmt.Errorf("failed to get record %s/%s: %w", store, key, err))
	}
	return rec, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context, userID, store string) ([]models.CacheRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE user_id = ? AND store = ?`, userID, store)
	if err != nil {
		return nil, common.Storage("get all", fmt.Errorf("failed to select records: %w", err))
	}
	recs, err := scanRecords(rows)
	return recs, common.Storage("get all", err)
}

func (r *SQLiteRepository) Remove(ctx context.Context, userID, store, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE composite_key = ?`,
		models.CompositeKey(userID, store, key))
	if err != nil {
		return common.Storage("remove", fmt.Errorf("failed to remove record %s/%s: %w", store, key, err))
	}
	return nil
}

func (r *SQLiteRepository) MarkPendingDelete(ctx context.Context, userID, store, key string) error {
	query := `INSERT INTO records (composite_key, user_id, store, item_key, payload, pending_delete, updated_at)
		VALUES (?, ?, ?, ?, 'null', 1, ?)
		ON CONFLICT(composite_key) DO UPDATE SET
			pending_delete = 1,
			pending_sync = 0,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		models.CompositeKey(userID, store, key), userID, store, key, r.now())
	if err != nil {
		return common.Storage("mark pending delete", fmt.Errorf("failed to tombstone %s/%s: %w", store, key, err))
	}
	return nil
}

func (r *SQLiteRepository) SetPendingSync(ctx context.Context, userID, store, key string, pending bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET pending_sync = ? WHERE composite_key = ?`,
		pending, models.CompositeKey(userID, store, key))
	if err != nil {
		return common.Storage("set pending sync", fmt.Errorf("failed to flag %s/%s: %w", store, key, err))
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, userID, store, key, serverID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET pending_sync = 0, server_id = COALESCE(NULLIF(?, ''), server_id)
		WHERE composite_key = ?`,
		serverID, models.CompositeKey(userID, store, key))
	if err != nil {
		return common.Storage("mark synced", fmt.Errorf("failed to mark %s/%s synced: %w", store, key, err))
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) Replace(ctx context.Context, rec models.CacheRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = r.clock.Now()
	}
	query := `INSERT INTO records (composite_key, user_id, store, item_key, payload, server_id, pending_sync, pending_delete, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(composite_key) DO UPDATE SET
			payload = excluded.payload,
			server_id = excluded.server_id,
			pending_sync = excluded.pending_sync,
			pending_delete = excluded.pending_delete,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		rec.CompositeKey(), rec.UserID, rec.Store, rec.Key, payloadBytes(rec.Payload), rec.ServerID,
		rec.PendingSync, rec.PendingDelete, updated.UTC().UnixMilli())
	if err != nil {
		return common.Storage("replace", fmt.Errorf("failed to replace record %s/%s: %w", rec.Store, rec.Key, err))
	}
	return nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context, userID string) ([]models.CacheRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM records
		WHERE user_id = ? AND (pending_sync = 1 OR pending_delete = 1)
		ORDER BY updated_at`, userID)
	if err != nil {
		return nil, common.Storage("list pending", fmt.Errorf("failed to select pending records: %w", err))
	}
	recs, err := scanRecords(rows)
	return recs, common.Storage("list pending", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.CacheRecord, error) {
	var (
		rec     models.CacheRecord
		payload []byte
		updated int64
	)
	err := s.Scan(&rec.UserID, &rec.Store, &rec.Key, &payload, &rec.ServerID,
		&rec.PendingSync, &rec.PendingDelete, &updated)
	if err != nil {
		return models.CacheRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.CacheRecord, error) {
	defer rows.Close()

	var result []models.CacheRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return result, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.Storage("rows affected", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
