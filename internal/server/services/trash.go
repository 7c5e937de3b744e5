package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/repomanager"
)

// Archiver keeps a copy of trash entries that are about to be purged.
type Archiver interface {
	Archive(ctx context.Context, userID string, entries []models.TrashEntry) error
}

// TrashService moves entities between the active stores and the trash.
type TrashService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       common.Clock
	retention   time.Duration
	archiver    Archiver
	log         logging.Logger
}

// NewTrashService builds the service. archiver may be nil, in which case
// expired entries are purged without a copy.
func NewTrashService(db *sql.DB, m repomanager.RepositoryManager, clock common.Clock, retention time.Duration, archiver Archiver, log logging.Logger) *TrashService {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &TrashService{
		db:          db,
		repomanager: m,
		clock:       clock,
		retention:   retention,
		archiver:    archiver,
		log:         log.With("module", "trash"),
	}
}

// SoftDelete moves the entity (kind, id) to the trash and returns the new
// trash entry. An entity that is already in the trash is returned as is.
func (s *TrashService) SoftDelete(ctx context.Context, userID, kind, id string) (models.TrashEntry, error) {
	store, err := models.StoreForKind(kind)
	if err != nil {
		return models.TrashEntry{}, err
	}

	var entry models.TrashEntry
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		trash := s.repomanager.Trash(tx)
		entities := s.repomanager.Entities(tx)

		e, err := entities.Get(ctx, userID, store, id)
		if errors.Is(err, common.ErrNotFound) {
			entry, err = trash.Get(ctx, userID, kind, id)
			return err
		}
		if err != nil {
			return err
		}

		entry = models.TrashEntry{
			UserID:    userID,
			ID:        id,
			Kind:      kind,
			Name:      models.DisplayName(e.Data),
			DeletedAt: s.clock.Now().UTC(),
			Data:      e.Data,
		}
		if err := trash.Put(ctx, entry); err != nil {
			return err
		}
		_, err = entities.Delete(ctx, userID, store, id)
		return err
	})
	if err != nil {
		return models.TrashEntry{}, err
	}

	return entry, nil
}

// Restore moves the entity back to its store. Restoring an entity that is
// already active succeeds.
func (s *TrashService) Restore(ctx context.Context, userID, kind, id string) error {
	store, err := models.StoreForKind(kind)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		trash := s.repomanager.Trash(tx)
		entities := s.repomanager.Entities(tx)

		entry, err := trash.Get(ctx, userID, kind, id)
		if errors.Is(err, common.ErrNotFound) {
			_, err = entities.Get(ctx, userID, store, id)
			return err
		}
		if err != nil {
			return err
		}

		e := models.Entity{UserID: userID, Store: store, Key: id, Data: entry.Data, UpdatedAt: s.clock.Now().UTC()}
		if err := entities.Upsert(ctx, e); err != nil {
			return err
		}
		_, err = trash.Delete(ctx, userID, kind, id)
		return err
	})
}

// PermanentDelete removes the entity from both the trash and its store.
// Deleting something that no longer exists is not an error.
func (s *TrashService) PermanentDelete(ctx context.Context, userID, kind, id string) error {
	store, err := models.StoreForKind(kind)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Trash(tx).Delete(ctx, userID, kind, id); err != nil {
			return err
		}
		_, err := s.repomanager.Entities(tx).Delete(ctx, userID, store, id)
		return err
	})
}

func (s *TrashService) List(ctx context.Context, userID string) ([]models.TrashEntry, error) {
	list, err := s.repomanager.Trash(s.db).List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.TrashEntry{}
	}
	return list, nil
}

// Cleanup purges the user's entries older than the retention window and
// returns how many were removed. With an archiver configured the entries
// are archived first and nothing is purged if archiving fails.
func (s *TrashService) Cleanup(ctx context.Context, userID string) (int, error) {
	before := s.clock.Now().Add(-s.retention)
	repo := s.repomanager.Trash(s.db)

	if s.archiver != nil {
		expired, err := repo.ListExpired(ctx, userID, before)
		if err != nil {
			return 0, err
		}
		if len(expired) == 0 {
			return 0, nil
		}
		if err := s.archiver.Archive(ctx, userID, expired); err != nil {
			s.log.Error(ctx, "archive failed", "user", userID, "count", len(expired), "error", err)
			return 0, fmt.Errorf("error archiving trash: %w", err)
		}
	}

	n, err := repo.DeleteExpired(ctx, userID, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info(ctx, "purged expired trash", "user", userID, "count", n)
	}
	return n, nil
}
