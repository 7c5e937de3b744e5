package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

var ErrMissingID = errors.New("entity has no id")

// EntityService is the typed face of SyncService and TrashService for one
// entity kind.
type EntityService[T models.Entity] struct {
	sync  *SyncService
	trash *TrashService
	kind  models.EntityKind
	store string
}

func NewEntityService[T models.Entity](sync *SyncService, trash *TrashService) (*EntityService[T], error) {
	var zero T
	kind := zero.Kind()
	store, err := kind.Store()
	if err != nil {
		return nil, err
	}
	return &EntityService[T]{sync: sync, trash: trash, kind: kind, store: store}, nil
}

func (s *EntityService[T]) Kind() models.EntityKind { return s.kind }

// TypedLoad is a decoded LoadResult.
type TypedLoad[T any] struct {
	Records []models.Record[T]
	Source  Source
	Stale   bool
}

func (s *EntityService[T]) List(ctx context.Context, userID string) (TypedLoad[T], error) {
	res, err := s.sync.LoadEntities(ctx, userID, s.store)
	if err != nil {
		return TypedLoad[T]{}, err
	}
	recs, err := models.DecodeAll[T](res.Records)
	if err != nil {
		return TypedLoad[T]{}, opError("load "+s.store, err)
	}
	return TypedLoad[T]{Records: recs, Source: res.Source, Stale: res.Stale}, nil
}

func (s *EntityService[T]) Get(ctx context.Context, userID, id string) (models.Record[T], error) {
	rec, err := s.sync.Get(ctx, userID, s.store, id)
	if err != nil {
		return models.Record[T]{}, err
	}
	r, err := models.Decode[T](rec)
	if err != nil {
		return models.Record[T]{}, opError("load "+id, err)
	}
	return r, nil
}

// Save stores v under its own id.
func (s *EntityService[T]) Save(ctx context.Context, userID string, v T) (Result, error) {
	id := v.EntityID()
	if id == "" {
		return Result{}, opError("save", ErrMissingID)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Result{}, opError("save", err)
	}
	return s.sync.SaveEntity(ctx, userID, s.store, id, payload)
}

func (s *EntityService[T]) Delete(ctx context.Context, userID, id string) (Result, error) {
	return s.sync.DeleteEntity(ctx, userID, s.store, id)
}

func (s *EntityService[T]) Trash(ctx context.Context, userID, id string) (Result, error) {
	return s.trash.Trash(ctx, userID, s.kind, id)
}
