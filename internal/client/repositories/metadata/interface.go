// Package metadata is a small key-value table for client bookkeeping: the
// access token, the signed-in user and the last trash cleanup time.
package metadata

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeyAccessToken  = "access_token" // sealed, see cryptox
	KeyTokenSalt    = "token_salt"
	KeyUserID       = "user_id"
	KeyUsername     = "username"
	KeyPasswordHash = "password_hash"
	KeyLastCleanup  = "last_trash_cleanup"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// GetTime returns the zero time when the key is absent.
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
