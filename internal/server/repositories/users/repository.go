// Package users stores shop accounts that may sign in to the data API.
package users

import (
	"context"

	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
)

type Repository interface {
	// Create fills in ID and CreatedAt. A taken user name is
	// common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetByUserName returns common.ErrNotFound for an unknown name.
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
}
