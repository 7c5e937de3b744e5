// Package trash stores the local copy of soft-deleted entities.
package trash

import (
	"context"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

type Repository interface {
	// Add inserts or replaces the item.
	Add(ctx context.Context, userID string, item models.TrashItem) error

	// Get returns common.ErrNotFound when the item is absent.
	Get(ctx context.Context, userID string, kind models.EntityKind, id string) (models.TrashItem, error)

	// List returns every item of the user, newest DeletedAt first.
	List(ctx context.Context, userID string) ([]models.TrashItem, error)

	// Delete is idempotent.
	Delete(ctx context.Context, userID string, kind models.EntityKind, id string) error

	// ReplaceSynced swaps all confirmed items for items. Pending items are kept.
	ReplaceSynced(ctx context.Context, userID string, items []models.TrashItem) error

	// DeleteOlderThan removes items deleted before cutoff and reports how many.
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)

	// ListPending returns items whose soft delete is not yet confirmed remotely.
	ListPending(ctx context.Context, userID string) ([]models.TrashItem, error)

	SetPending(ctx context.Context, userID string, kind models.EntityKind, id string, pending bool) error
}
