package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
)

// DefaultCleanupInterval is how often RunCleanup purges expired trash.
const DefaultCleanupInterval = 24 * time.Hour

// TrashService moves entities between the active set and the trash, locally
// and on the server. Operations that cannot reach the server are queued on
// the SyncService and replayed by its drains.
type TrashService struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	data    client.Gateway
	gateway client.TrashGateway
	sync    *SyncService
	log     logging.Logger
}

func NewTrashService(db *sql.DB, repos repomanager.RepositoryManager, data client.Gateway,
	gateway client.TrashGateway, sync *SyncService, log logging.Logger) *TrashService {
	if log == nil {
		log = logging.Nop{}
	}
	t := &TrashService{
		db:      db,
		repos:   repos,
		data:    data,
		gateway: gateway,
		sync:    sync,
		log:     log.With("module", "trash"),
	}
	sync.RegisterHandler(models.ActionTrash, t.replayTrash)
	sync.RegisterHandler(models.ActionRestore, t.replayRestore)
	sync.RegisterHandler(models.ActionPurge, t.replayPurge)
	sync.bin = t
	return t
}

func (t *TrashService) publish(kind events.Kind, store, key, msg string) {
	t.sync.bus.Publish(events.Event{Kind: kind, Store: store, Key: key, Message: msg})
}

func (t *TrashService) fail(ctx context.Context, op, store, key string, err error) (Result, error) {
	opErr := opError(op, err)
	t.log.Error(ctx, "trash operation failed", "op", op, "store", store, "key", key, "error", err)
	t.publish(events.TrashFailed, store, key, opErr.Message)
	return Result{}, opErr
}

// moveToTrash removes the active record and stores item in one transaction.
func (t *TrashService) moveToTrash(ctx context.Context, userID, store string, item models.TrashItem) error {
	return dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := t.repos.Records(tx).Remove(ctx, userID, store, item.ID); err != nil {
			return err
		}
		return t.repos.Trash(tx).Add(ctx, userID, item)
	})
}

// moveToActive deletes the trash row and writes the record in one transaction.
func (t *TrashService) moveToActive(ctx context.Context, rec models.CacheRecord, kind models.EntityKind) error {
	return dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := t.repos.Trash(tx).Delete(ctx, rec.UserID, kind, rec.Key); err != nil {
			return err
		}
		return t.repos.Records(tx).Replace(ctx, rec)
	})
}

func (t *TrashService) held(ctx context.Context, userID, store, key string) (bool, error) {
	if op, ok := t.sync.Queued(userID, store, key, models.FamilyTrash); ok && op.Action != models.ActionRestore {
		return true, nil
	}
	kind, err := models.KindForStore(store)
	if err != nil {
		return false, nil
	}
	item, err := t.repos.Trash(t.db).Get(ctx, userID, kind, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return item.Pending, nil
}

func (t *TrashService) activate(ctx context.Context, rec models.CacheRecord) error {
	kind, err := models.KindForStore(rec.Store)
	if err != nil {
		return t.repos.Records(t.db).Replace(ctx, rec)
	}
	return t.moveToActive(ctx, rec, kind)
}

func (t *TrashService) putActive(ctx context.Context, userID, store, key string, payload json.RawMessage, pending bool) error {
	kind, kindErr := models.KindForStore(store)
	err := dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if kindErr == nil {
			if err := t.repos.Trash(tx).Delete(ctx, userID, kind, key); err != nil {
				return err
			}
		}
		records := t.repos.Records(tx)
		if err := records.Put(ctx, userID, store, key, payload); err != nil {
			return err
		}
		if !pending {
			return nil
		}
		return records.SetPendingSync(ctx, userID, store, key, true)
	})
	return common.Storage("put active", err)
}

// Trash soft-deletes an entity. Without a server the entity is moved to the
// local trash and the soft delete is queued. A server that answers with an
// error leaves the entity active.
func (t *TrashService) Trash(ctx context.Context, userID string, kind models.EntityKind, id string) (Result, error) {
	store, err := kind.Store()
	if err != nil {
		return Result{}, opError("move to trash", err)
	}

	unlock := t.sync.locks.lock(models.CompositeKey(userID, store, id))
	defer unlock()

	online := t.sync.conn.Online()
	snapshot, err := t.snapshot(ctx, userID, store, id, online)
	if err != nil {
		return t.fail(ctx, "move to trash", store, id, err)
	}

	item := models.NewTrashItem(kind, id, snapshot, t.sync.clock.Now())

	reason := ""
	if online {
		remote, err := t.gateway.SoftDelete(ctx, userID, kind, id)
		switch {
		case err == nil:
			if remote.ID != "" {
				item.Name, item.DeletedAt = remote.Name, remote.DeletedAt
			}
			return t.finishTrash(ctx, userID, store, item, msgTrashed)
		case errors.Is(err, common.ErrNotFound):
			// never reached the server; trash it here only
			t.log.Info(ctx, "entity unknown to server, trashing locally", "store", store, "key", id)
			return t.finishTrash(ctx, userID, store, item, msgTrashed)
		case !common.IsTransient(err):
			return t.fail(ctx, "move to trash", store, id, err)
		}
		t.log.Warn(ctx, "remote soft delete failed, queueing", "store", store, "key", id, "error", err)
		reason = describe(err)
	}

	item.Pending = true
	if err := t.moveToTrash(ctx, userID, store, item); err != nil {
		return t.fail(ctx, "move to trash", store, id, err)
	}
	t.sync.Enqueue(ctx, models.ActionTrash, userID, store, id, item.Data)

	msg := msgTrashQueued
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", msgTrashQueued, reason)
	}
	t.publish(events.TrashChanged, store, id, msg)
	return Result{Queued: true, Message: msg}, nil
}

func (t *TrashService) finishTrash(ctx context.Context, userID, store string, item models.TrashItem, msg string) (Result, error) {
	t.sync.Dequeue(userID, store, item.ID, models.FamilyData)
	// an older queued trash or restore is superseded
	t.sync.Dequeue(userID, store, item.ID, models.FamilyTrash)
	if err := t.moveToTrash(ctx, userID, store, item); err != nil {
		t.log.Error(ctx, "local trash update failed", "store", store, "key", item.ID, "error", err)
		msg = msg + "; " + msgLocalCacheLost
	}
	t.publish(events.TrashChanged, store, item.ID, msg)
	return Result{Message: msg}, nil
}

// snapshot picks the entity state to keep in the trash. Unsynced local edits
// win; they are flushed to the server first when possible so the server-side
// snapshot matches.
func (t *TrashService) snapshot(ctx context.Context, userID, store, id string, online bool) (json.RawMessage, error) {
	rec, err := t.sync.cache.Get(ctx, userID, store, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	local := err == nil && !rec.PendingDelete

	if local && rec.PendingSync {
		if online {
			if res, err := t.data.Save(ctx, userID, store, id, rec.Payload); err == nil {
				t.sync.Dequeue(userID, store, id, models.FamilyData)
				if err := t.sync.cache.MarkSynced(ctx, userID, store, id, res.ID); err != nil {
					t.log.Warn(ctx, "mark synced failed", "store", store, "key", id, "error", err)
				}
			} else {
				t.log.Warn(ctx, "flush before trash failed", "store", store, "key", id, "error", err)
			}
		}
		return rec.Payload, nil
	}

	if online {
		data, err := t.data.Fetch(ctx, userID, store, id)
		if err == nil {
			return data, nil
		}
		if !local {
			return nil, err
		}
		t.log.Warn(ctx, "fetch before trash failed, using cached copy", "store", store, "key", id, "error", err)
	}
	if !local {
		return nil, common.ErrNotFound
	}
	return rec.Payload, nil
}

// Restore brings a trashed entity back to the active set.
func (t *TrashService) Restore(ctx context.Context, userID string, kind models.EntityKind, id string) (Result, error) {
	store, err := kind.Store()
	if err != nil {
		return Result{}, opError("restore", err)
	}

	unlock := t.sync.locks.lock(models.CompositeKey(userID, store, id))
	defer unlock()

	item, err := t.repos.Trash(t.db).Get(ctx, userID, kind, id)
	local := err == nil
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return t.fail(ctx, "restore", store, id, err)
	}
	online := t.sync.conn.Online()
	if !local && !online {
		return t.fail(ctx, "restore", store, id, common.ErrNotFound)
	}

	// the soft delete never left this machine: just undo it
	if op, ok := t.sync.Queued(userID, store, id, models.FamilyTrash); ok && op.Action == models.ActionTrash && local {
		t.sync.Dequeue(userID, store, id, models.FamilyTrash)
		_, dataQueued := t.sync.Queued(userID, store, id, models.FamilyData)
		rec := t.activeRecord(userID, store, item, dataQueued)
		if err := t.moveToActive(ctx, rec, kind); err != nil {
			t.sync.queue.push(op)
			return t.fail(ctx, "restore", store, id, err)
		}
		t.publish(events.TrashChanged, store, id, msgRestored)
		return Result{Message: msgRestored}, nil
	}

	reason := ""
	if online {
		err := t.gateway.Restore(ctx, userID, kind, id)
		switch {
		case err == nil:
			return t.finishRestore(ctx, userID, store, kind, id, item, local)
		case errors.Is(err, common.ErrNotFound) && local:
			// the server lost it; the local snapshot is re-created through a save
			t.log.Warn(ctx, "server has no trash entry, re-creating from snapshot", "store", store, "key", id)
			rec := t.activeRecord(userID, store, item, true)
			if err := t.moveToActive(ctx, rec, kind); err != nil {
				return t.fail(ctx, "restore", store, id, err)
			}
			t.sync.Enqueue(ctx, models.ActionSave, userID, store, id, item.Data)
			t.publish(events.TrashChanged, store, id, msgRestoreQueued)
			return Result{Queued: true, Message: msgRestoreQueued}, nil
		case !common.IsTransient(err) || !local:
			return t.fail(ctx, "restore", store, id, err)
		}
		t.log.Warn(ctx, "remote restore failed, queueing", "store", store, "key", id, "error", err)
		reason = describe(err)
	}

	rec := t.activeRecord(userID, store, item, true)
	if err := t.moveToActive(ctx, rec, kind); err != nil {
		return t.fail(ctx, "restore", store, id, err)
	}
	t.sync.Enqueue(ctx, models.ActionRestore, userID, store, id, item.Data)

	msg := msgRestoreQueued
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", msgRestoreQueued, reason)
	}
	t.publish(events.TrashChanged, store, id, msg)
	return Result{Queued: true, Message: msg}, nil
}

func (t *TrashService) finishRestore(ctx context.Context, userID, store string, kind models.EntityKind, id string, item models.TrashItem, local bool) (Result, error) {
	t.sync.Dequeue(userID, store, id, models.FamilyTrash)
	msg := msgRestored

	data := item.Data
	if !local {
		fetched, err := t.data.Fetch(ctx, userID, store, id)
		if err != nil {
			t.log.Warn(ctx, "restored entity not fetched, next load will bring it", "store", store, "key", id, "error", err)
			t.publish(events.TrashChanged, store, id, msg)
			return Result{Message: msg}, nil
		}
		data = fetched
	}

	_, dataQueued := t.sync.Queued(userID, store, id, models.FamilyData)
	rec := models.CacheRecord{UserID: userID, Store: store, Key: id, Payload: data, ServerID: id, PendingSync: dataQueued}
	if err := t.moveToActive(ctx, rec, kind); err != nil {
		t.log.Error(ctx, "local restore failed", "store", store, "key", id, "error", err)
		msg = msg + "; " + msgLocalCacheLost
	}
	t.publish(events.TrashChanged, store, id, msg)
	return Result{Message: msg}, nil
}

func (t *TrashService) activeRecord(userID, store string, item models.TrashItem, pending bool) models.CacheRecord {
	return models.CacheRecord{
		UserID:      userID,
		Store:       store,
		Key:         item.ID,
		Payload:     item.Data,
		PendingSync: pending,
		UpdatedAt:   t.sync.clock.Now(),
	}
}

// PermanentlyDelete removes a trashed entity for good. The local row always
// goes; a server that cannot be reached gets a queued purge.
func (t *TrashService) PermanentlyDelete(ctx context.Context, userID string, kind models.EntityKind, id string) (Result, error) {
	store, err := kind.Store()
	if err != nil {
		return Result{}, opError("delete permanently", err)
	}

	unlock := t.sync.locks.lock(models.CompositeKey(userID, store, id))
	defer unlock()

	repo := t.repos.Trash(t.db)
	_, err = repo.Get(ctx, userID, kind, id)
	local := err == nil
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return t.fail(ctx, "delete permanently", store, id, err)
	}
	online := t.sync.conn.Online()
	if !local && !online {
		return t.fail(ctx, "delete permanently", store, id, common.ErrNotFound)
	}

	if local {
		if err := repo.Delete(ctx, userID, kind, id); err != nil {
			return t.fail(ctx, "delete permanently", store, id, err)
		}
	}
	// the server removes active and trashed copies alike, so a queued save
	// or soft delete is superseded by the purge
	t.sync.Dequeue(userID, store, id, models.FamilyData)

	reason := "offline"
	if online {
		err := t.gateway.PermanentDelete(ctx, userID, kind, id)
		if err == nil || errors.Is(err, common.ErrNotFound) {
			t.sync.Dequeue(userID, store, id, models.FamilyTrash)
			t.publish(events.TrashChanged, store, id, msgPurged)
			return Result{Message: msgPurged}, nil
		}
		reason = describe(err)
	}

	t.log.Warn(ctx, "server deletion deferred", "store", store, "key", id, "reason", reason)
	t.sync.Enqueue(ctx, models.ActionPurge, userID, store, id, nil)
	msg := fmt.Sprintf("%s (%s)", msgPurgeDeferred, reason)
	t.publish(events.TrashChanged, store, id, msg)
	return Result{Queued: true, Message: msg}, nil
}

// TrashList is the outcome of ListAll.
type TrashList struct {
	Items  []models.TrashItem
	Source Source
	Stale  bool
}

// ListAll returns the user's trash. When online the local copy is refreshed
// from the server first; unconfirmed local entries are kept.
func (t *TrashService) ListAll(ctx context.Context, userID string) (TrashList, error) {
	source := SourceLocal
	if t.sync.conn.Online() {
		items, err := t.gateway.List(ctx, userID)
		if err == nil {
			err = dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				kept, err := t.reconcile(ctx, tx, userID, items)
				if err != nil {
					return err
				}
				items = kept
				return t.repos.Trash(tx).ReplaceSynced(ctx, userID, kept)
			})
			if err != nil {
				t.log.Error(ctx, "trash refresh failed, serving server list", "error", err)
				return TrashList{Items: items, Source: SourceRemote}, nil
			}
			source = SourceRemote
		} else {
			t.log.Warn(ctx, "trash list failed, serving local copy", "error", err)
		}
	}

	items, err := t.repos.Trash(t.db).List(ctx, userID)
	if err != nil {
		opErr := opError("list trash", err)
		t.publish(events.TrashFailed, "", "", opErr.Message)
		return TrashList{}, opErr
	}
	return TrashList{Items: items, Source: source, Stale: source != SourceRemote}, nil
}

// reconcile drops server items with a local change the server has not seen:
// a queued restore or purge, or an active record with unsynced edits. A clean
// active record of a server item was trashed elsewhere and leaves the cache.
func (t *TrashService) reconcile(ctx context.Context, tx dbx.DBTX, userID string, items []models.TrashItem) ([]models.TrashItem, error) {
	records := t.repos.Records(tx)
	out := make([]models.TrashItem, 0, len(items))
	for _, it := range items {
		store, err := it.Type.Store()
		if err != nil {
			out = append(out, it)
			continue
		}
		if op, ok := t.sync.Queued(userID, store, it.ID, models.FamilyTrash); ok &&
			(op.Action == models.ActionPurge || op.Action == models.ActionRestore) {
			continue
		}
		if _, ok := t.sync.Queued(userID, store, it.ID, models.FamilyData); ok {
			continue
		}

		rec, err := records.Get(ctx, userID, store, it.ID)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return nil, err
		case rec.Dirty():
			continue
		default:
			if err := records.Remove(ctx, userID, store, it.ID); err != nil {
				return nil, err
			}
		}
		out = append(out, it)
	}
	return out, nil
}

// CleanupExpired purges trash older than the retention window on the server
// and locally. It does nothing while offline and returns how many entries
// were purged.
func (t *TrashService) CleanupExpired(ctx context.Context, userID string) (int, error) {
	if !t.sync.conn.Online() {
		return 0, nil
	}

	purged, err := t.gateway.Cleanup(ctx, userID)
	if err != nil {
		_, opErr := t.fail(ctx, "clean up trash", "", "", err)
		return 0, opErr
	}

	now := t.sync.clock.Now()
	removed, err := t.repos.Trash(t.db).DeleteOlderThan(ctx, userID, now.Add(-models.TrashRetention))
	if err != nil {
		t.log.Error(ctx, "local trash cleanup failed", "error", err)
	}
	if err := t.repos.Metadata(t.db).SetTime(ctx, metadata.KeyLastCleanup, now); err != nil {
		t.log.Warn(ctx, "last cleanup time not saved", "error", err)
	}

	total := purged
	if int(removed) > total {
		total = int(removed)
	}
	if total > 0 {
		t.log.Info(ctx, "expired trash purged", "server", purged, "local", removed)
		t.publish(events.TrashChanged, "", "", fmt.Sprintf("purged %d expired item(s)", total))
	}
	return total, nil
}

// RunCleanup calls CleanupExpired at start, on every tick and on every switch
// to online, whenever the last successful run is at least every old.
func (t *TrashService) RunCleanup(ctx context.Context, userID string, every time.Duration) {
	if every <= 0 {
		every = DefaultCleanupInterval
	}
	changes, stop := t.sync.conn.Watch()
	defer stop()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	t.cleanupIfDue(ctx, userID, every)
	for {
		select {
		case <-ticker.C:
			t.cleanupIfDue(ctx, userID, every)
		case online := <-changes:
			if online {
				t.cleanupIfDue(ctx, userID, every)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *TrashService) cleanupIfDue(ctx context.Context, userID string, every time.Duration) {
	last, err := t.repos.Metadata(t.db).GetTime(ctx, metadata.KeyLastCleanup)
	if err != nil {
		t.log.Warn(ctx, "last cleanup time unreadable", "error", err)
	}
	if !last.IsZero() && t.sync.clock.Now().Sub(last) < every {
		return
	}
	_, _ = t.CleanupExpired(ctx, userID)
}

func (t *TrashService) replayTrash(ctx context.Context, op models.PendingOperation) error {
	kind, err := models.KindForStore(op.Store)
	if err != nil {
		return err
	}
	if _, err := t.gateway.SoftDelete(ctx, op.UserID, kind, op.Key); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if err := t.repos.Trash(t.db).SetPending(ctx, op.UserID, kind, op.Key, false); err != nil && !errors.Is(err, common.ErrNotFound) {
		t.log.Warn(ctx, "trash entry not marked synced", "store", op.Store, "key", op.Key, "error", err)
	}
	return nil
}

func (t *TrashService) replayRestore(ctx context.Context, op models.PendingOperation) error {
	kind, err := models.KindForStore(op.Store)
	if err != nil {
		return err
	}
	err = t.gateway.Restore(ctx, op.UserID, kind, op.Key)
	if errors.Is(err, common.ErrNotFound) {
		payload := op.Payload
		if rec, err := t.sync.cache.Get(ctx, op.UserID, op.Store, op.Key); err == nil && !rec.PendingDelete {
			payload = rec.Payload
		}
		_, err = t.data.Save(ctx, op.UserID, op.Store, op.Key, payload)
	}
	if err != nil {
		return err
	}
	if _, dataQueued := t.sync.Queued(op.UserID, op.Store, op.Key, models.FamilyData); !dataQueued {
		if err := t.sync.cache.MarkSynced(ctx, op.UserID, op.Store, op.Key, ""); err != nil && !errors.Is(err, common.ErrNotFound) {
			t.log.Warn(ctx, "restored record not marked synced", "store", op.Store, "key", op.Key, "error", err)
		}
	}
	return nil
}

func (t *TrashService) replayPurge(ctx context.Context, op models.PendingOperation) error {
	kind, err := models.KindForStore(op.Store)
	if err != nil {
		return err
	}
	return t.gateway.PermanentDelete(ctx, op.UserID, kind, op.Key)
}

// Rebuild re-queues soft deletes that are not confirmed and not queued, as
// after a restart or a drop at the retry ceiling. Queued purges and restores
// do not survive a restart.
func (t *TrashService) Rebuild(ctx context.Context, userID string) (int, error) {
	items, err := t.repos.Trash(t.db).ListPending(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("rebuild trash queue: %w", err)
	}
	n := 0
	for _, it := range items {
		store, err := it.Type.Store()
		if err != nil {
			t.log.Warn(ctx, "pending trash entry of unknown kind skipped", "kind", it.Type, "id", it.ID)
			continue
		}
		if _, ok := t.sync.Queued(userID, store, it.ID, models.FamilyTrash); ok {
			continue
		}
		t.sync.Enqueue(ctx, models.ActionTrash, userID, store, it.ID, it.Data)
		n++
	}
	return n, nil
}
