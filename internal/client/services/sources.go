package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
)

// source is one place LoadEntities can read a store from.
type source interface {
	name() Source
	load(ctx context.Context, userID, store string) ([]models.CacheRecord, error)
}

// remoteSource fetches the store from the gateway and merges it into the
// cache. Dirty local records win over the server copy.
type remoteSource struct{ s *SyncService }

func (remoteSource) name() Source { return SourceRemote }

func (r remoteSource) load(ctx context.Context, userID, store string) ([]models.CacheRecord, error) {
	s := r.s
	if !s.conn.Online() {
		return nil, common.ErrOffline
	}

	items, err := s.gateway.FetchAll(ctx, userID, store)
	if err != nil {
		return nil, err
	}

	fromServer := make([]models.CacheRecord, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		id := models.PayloadID(item)
		if id == "" {
			s.log.Warn(ctx, "server item without id skipped", "store", store)
			continue
		}
		rec := models.CacheRecord{UserID: userID, Store: store, Key: id, Payload: item, ServerID: id}
		fromServer = append(fromServer, rec)
		seen[id] = true
	}

	merged, err := r.merge(ctx, userID, store, fromServer, seen)
	if err != nil {
		s.log.Error(ctx, "merge into cache failed, serving server copy", "store", store, "error", err)
		return fromServer, nil
	}
	return merged, nil
}

func (r remoteSource) merge(ctx context.Context, userID, store string, fromServer []models.CacheRecord, seen map[string]bool) ([]models.CacheRecord, error) {
	s := r.s

	local, err := s.cache.GetAll(ctx, userID, store)
	if err != nil {
		return nil, err
	}
	// server ids may differ from local keys for records created offline
	byServerID := make(map[string]string, len(local))
	for _, rec := range local {
		if rec.ServerID != "" && rec.ServerID != rec.Key {
			byServerID[rec.ServerID] = rec.Key
			if seen[rec.ServerID] {
				seen[rec.Key] = true
			}
		}
	}

	for _, srv := range fromServer {
		if key, ok := byServerID[srv.Key]; ok {
			srv.Key = key
		}
		if err := r.mergeOne(ctx, srv); err != nil {
			return nil, err
		}
	}

	for _, rec := range local {
		if seen[rec.Key] || rec.Dirty() {
			continue
		}
		if err := s.WithKeyLock(userID, store, rec.Key, func() error {
			cur, err := s.cache.Get(ctx, userID, store, rec.Key)
			if errors.Is(err, common.ErrNotFound) || (err == nil && cur.Dirty()) {
				return nil
			}
			if err != nil {
				return err
			}
			return s.cache.Remove(ctx, userID, store, rec.Key)
		}); err != nil {
			return nil, err
		}
	}

	all, err := s.cache.GetAll(ctx, userID, store)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, rec := range all {
		if !rec.PendingDelete {
			live = append(live, rec)
		}
	}
	return live, nil
}

func (r remoteSource) mergeOne(ctx context.Context, srv models.CacheRecord) error {
	s := r.s
	return s.WithKeyLock(srv.UserID, srv.Store, srv.Key, func() error {
		cur, err := s.cache.Get(ctx, srv.UserID, srv.Store, srv.Key)
		switch {
		case err == nil && cur.Dirty():
			s.log.Debug(ctx, "local change kept over server copy", "store", srv.Store, "key", srv.Key)
			return nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return err
		}
		srv.UpdatedAt = s.clock.Now()
		if s.bin == nil {
			return s.cache.Replace(ctx, srv)
		}

		held, err := s.bin.held(ctx, srv.UserID, srv.Store, srv.Key)
		if err != nil {
			return err
		}
		if held {
			s.log.Debug(ctx, "trashed locally, server copy skipped", "store", srv.Store, "key", srv.Key)
			return nil
		}
		// a confirmed trash row here means the entity was restored elsewhere
		return s.bin.activate(ctx, srv)
	})
}

// localSource serves the cache as is.
type localSource struct{ s *SyncService }

func (localSource) name() Source { return SourceLocal }

func (l localSource) load(ctx context.Context, userID, store string) ([]models.CacheRecord, error) {
	all, err := l.s.cache.GetAll(ctx, userID, store)
	if err != nil {
		return nil, err
	}
	live := make([]models.CacheRecord, 0, len(all))
	for _, rec := range all {
		if !rec.PendingDelete {
			live = append(live, rec)
		}
	}
	return live, nil
}
