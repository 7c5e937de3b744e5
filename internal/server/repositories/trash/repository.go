package trash

import (
	"context"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
)

type Repository interface {
	// Put inserts or replaces the trash row of (user, kind, id).
	Put(ctx context.Context, e models.TrashEntry) error
	Get(ctx context.Context, userID, kind, id string) (models.TrashEntry, error)
	// List returns the user's trash, newest first.
	List(ctx context.Context, userID string) ([]models.TrashEntry, error)
	Delete(ctx context.Context, userID, kind, id string) (bool, error)
	ListExpired(ctx context.Context, userID string, before time.Time) ([]models.TrashEntry, error)
	DeleteExpired(ctx context.Context, userID string, before time.Time) (int, error)
}
