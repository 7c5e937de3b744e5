package entities

import (
	"context"

	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
)

type Repository interface {
	List(ctx context.Context, userID, store string) ([]models.Entity, error)
	Get(ctx context.Context, userID, store, key string) (models.Entity, error)
	Upsert(ctx context.Context, e models.Entity) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, userID, store, key string) (bool, error)
}
