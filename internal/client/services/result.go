package services

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
)

// Source names where a read was served from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Result describes how a mutation was applied.
type Result struct {
	// Queued means the change is stored locally and waits for the gateway.
	Queued   bool
	ServerID string
	// Message is a short human-readable status line.
	Message string
}

// LoadResult is the outcome of a read.
type LoadResult struct {
	Records []models.CacheRecord
	Source  Source
	// Stale is set when the data did not come from the server.
	Stale bool
}

// OpError is the single user-facing error of a failed operation.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string { return e.Message }

func (e *OpError) Unwrap() error { return e.Err }

// opError builds an OpError whose message says why op failed in plain words.
func opError(op string, err error) *OpError {
	return &OpError{Op: op, Message: fmt.Sprintf("failed to %s: %s", op, describe(err)), Err: err}
}

func describe(err error) string {
	var se *client.ServerError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, common.ErrNotFound):
		return "item no longer exists"
	case errors.Is(err, common.ErrStorage):
		return "local storage unavailable"
	case errors.Is(err, common.ErrFormat):
		return "unexpected response from server"
	case errors.Is(err, common.ErrNetwork), errors.Is(err, common.ErrOffline):
		return "server unreachable"
	default:
		return err.Error()
	}
}

const (
	msgQueued         = "saved locally, will sync when online"
	msgSaved          = "saved"
	msgDeleted        = "deleted"
	msgDeleteQueued   = "deleted locally, will sync when online"
	msgTrashed        = "moved to trash"
	msgTrashQueued    = "moved to trash locally, will sync when online"
	msgRestored       = "restored"
	msgRestoreQueued  = "restored locally, will sync when online"
	msgPurged         = "deleted permanently"
	msgPurgeDeferred  = "deleted permanently here, server deletion will sync later"
	msgLocalCacheLost = "local cache could not be updated"
	msgKeptLocally    = "local copy kept until the next manual sync or restart"
)
