package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/repomanager"
)

// ErrInvalidPayload is returned when saved data is not a JSON object.
var ErrInvalidPayload = errors.New("payload must be a JSON object")

// DataService stores the active entities of each user's stores.
type DataService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       common.Clock
}

func NewDataService(db *sql.DB, m repomanager.RepositoryManager, clock common.Clock) *DataService {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &DataService{db: db, repomanager: m, clock: clock}
}

// List returns the payloads of every entity in store.
func (s *DataService) List(ctx context.Context, userID, store string) ([]json.RawMessage, error) {
	if _, err := models.KindForStore(store); err != nil {
		return nil, err
	}

	list, err := s.repomanager.Entities(s.db).List(ctx, userID, store)
	if err != nil {
		return nil, err
	}

	result := make([]json.RawMessage, 0, len(list))
	for _, e := range list {
		result = append(result, e.Data)
	}
	return result, nil
}

func (s *DataService) Get(ctx context.Context, userID, store, key string) (json.RawMessage, error) {
	if _, err := models.KindForStore(store); err != nil {
		return nil, err
	}

	e, err := s.repomanager.Entities(s.db).Get(ctx, userID, store, key)
	if err != nil {
		return nil, err
	}
	return e.Data, nil
}

// Save creates or replaces the entity at key and returns its id. The stored
// payload always carries key as "id". Saving an entity that sits in the
// trash takes it out of the trash.
func (s *DataService) Save(ctx context.Context, userID, store, key string, data json.RawMessage) (string, error) {
	kind, err := models.KindForStore(store)
	if err != nil {
		return "", err
	}

	payload, err := withID(data, key)
	if err != nil {
		return "", err
	}

	e := models.Entity{UserID: userID, Store: store, Key: key, Data: payload, UpdatedAt: s.clock.Now().UTC()}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Entities(tx).Upsert(ctx, e); err != nil {
			return err
		}
		_, err := s.repomanager.Trash(tx).Delete(ctx, userID, kind, key)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("error saving entity: %w", err)
	}

	return key, nil
}

// Remove deletes the entity at key. A missing entity yields common.ErrNotFound.
func (s *DataService) Remove(ctx context.Context, userID, store, key string) error {
	if _, err := models.KindForStore(store); err != nil {
		return err
	}

	ok, err := s.repomanager.Entities(s.db).Delete(ctx, userID, store, key)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotFound
	}
	return nil
}

// withID decodes data as an object and sets its "id" to key.
func withID(data json.RawMessage, key string) (json.RawMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrInvalidPayload
	}
	fields["id"] = key
	return json.Marshal(fields)
}
