// Package records is the Local Cache Store: a durable key-value table of
// entity snapshots keyed by (user, store, key) with dirty tracking.
package records

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

// Repository describes the cache operations used by the sync reconciler.
// Errors from the storage layer are *common.StorageError values.
type Repository interface {
	// Put writes payload and bumps UpdatedAt. PendingSync and ServerID are
	// kept as they are; a tombstone on the key is cleared.
	Put(ctx context.Context, userID, store, key string, payload json.RawMessage) error

	// Get returns common.ErrNotFound when the key is absent.
	Get(ctx context.Context, userID, store, key string) (models.CacheRecord, error)

	// GetAll lists every record of the store, tombstones included, in no
	// particular order.
	GetAll(ctx context.Context, userID, store string) ([]models.CacheRecord, error)

	// Remove is idempotent.
	Remove(ctx context.Context, userID, store, key string) error

	// MarkPendingDelete tombstones the key and clears PendingSync. A tombstone
	// is created even when the key was never cached.
	MarkPendingDelete(ctx context.Context, userID, store, key string) error

	SetPendingSync(ctx context.Context, userID, store, key string, pending bool) error

	// MarkSynced clears PendingSync and records serverID when it is not empty.
	MarkSynced(ctx context.Context, userID, store, key, serverID string) error

	// Replace overwrites the whole record, used when merging server state.
	Replace(ctx context.Context, r models.CacheRecord) error

	// ListPending returns all dirty records of the user across stores.
	ListPending(ctx context.Context, userID string) ([]models.CacheRecord, error)
}
