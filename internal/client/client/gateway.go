package client

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

// SaveResult is the server's acknowledgement of a save.
type SaveResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// Gateway reads and writes active entities of one (user, store) namespace.
type Gateway interface {
	FetchAll(ctx context.Context, userID, store string) ([]json.RawMessage, error)
	Fetch(ctx context.Context, userID, store, key string) (json.RawMessage, error)
	Save(ctx context.Context, userID, store, key string, payload json.RawMessage) (SaveResult, error)
	Remove(ctx context.Context, userID, store, key string) error
}

// TrashGateway drives the server-side trash namespace.
type TrashGateway interface {
	SoftDelete(ctx context.Context, userID string, kind models.EntityKind, id string) (models.TrashItem, error)
	Restore(ctx context.Context, userID string, kind models.EntityKind, id string) error
	PermanentDelete(ctx context.Context, userID string, kind models.EntityKind, id string) error
	List(ctx context.Context, userID string) ([]models.TrashItem, error)
	// Cleanup purges items past the retention window and returns how many.
	Cleanup(ctx context.Context, userID string) (int, error)
}

// Session is the result of a successful login.
type Session struct {
	Token  string
	UserID string
}

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (Session, error)
	Remember(username, password string)
}
