package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
)

const (
	DefaultMaxRetries    = 3
	DefaultDrainInterval = 30 * time.Second
)

// Connectivity is the online/offline signal the services follow.
type Connectivity interface {
	Online() bool
	Watch() (<-chan bool, func())
}

// Handler replays one queued operation against the gateway.
type Handler func(ctx context.Context, op models.PendingOperation) error

type SyncOptions struct {
	MaxRetries    int
	DrainInterval time.Duration
	Clock         common.Clock
	IDs           common.IDGenerator
}

// DrainReport summarizes one ProcessPendingOperations call.
type DrainReport struct {
	Succeeded int
	Requeued  int
	Dropped   int
	// Skipped lists stores whose drain was already running.
	Skipped []string
}

// SyncService reconciles the local cache with the gateway: reads prefer the
// server and fall back to the cache, writes go to the server when possible
// and are queued otherwise, and queued writes are replayed by drains.
type SyncService struct {
	cache   records.Repository
	gateway client.Gateway
	conn    Connectivity
	bus     events.Publisher
	log     logging.Logger
	clock   common.Clock
	ids     common.IDGenerator

	maxRetries    int
	drainInterval time.Duration

	sources []source
	queue   *opQueue
	locks   *keyLocks
	// bin is set by NewTrashService; nil when no trash is wired
	bin trashIndex

	mu       sync.Mutex
	handlers map[models.Action]Handler
	draining map[string]bool
}

func NewSyncService(cache records.Repository, gateway client.Gateway, conn Connectivity,
	bus events.Publisher, log logging.Logger, opts SyncOptions) *SyncService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.Clock == nil {
		opts.Clock = common.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = common.UUIDGenerator{}
	}
	if bus == nil {
		bus = events.Discard{}
	}
	if log == nil {
		log = logging.Nop{}
	}

	s := &SyncService{
		cache:         cache,
		gateway:       gateway,
		conn:          conn,
		bus:           bus,
		log:           log.With("module", "sync"),
		clock:         opts.Clock,
		ids:           opts.IDs,
		maxRetries:    opts.MaxRetries,
		drainInterval: opts.DrainInterval,
		queue:         newOpQueue(),
		locks:         newKeyLocks(),
		handlers:      make(map[models.Action]Handler),
		draining:      make(map[string]bool),
	}
	s.sources = []source{remoteSource{s}, localSource{s}}
	s.RegisterHandler(models.ActionSave, s.replaySave)
	s.RegisterHandler(models.ActionDelete, s.replayDelete)
	return s
}

// trashIndex is the view of the local trash the reconciler needs to keep an
// entity out of the active set while it is trashed, and out of the trash once
// it is written again.
type trashIndex interface {
	// held reports whether the key is trashed or purged here in a way the
	// server has not confirmed yet.
	held(ctx context.Context, userID, store, key string) (bool, error)
	// activate replaces the active record with rec and drops its trash row.
	activate(ctx context.Context, rec models.CacheRecord) error
	// putActive writes payload as the active record and drops its trash row.
	putActive(ctx context.Context, userID, store, key string, payload json.RawMessage, pending bool) error
}

// RegisterHandler sets the replay handler for action, replacing any other.
func (s *SyncService) RegisterHandler(action models.Action, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[action] = h
}

func (s *SyncService) handler(action models.Action) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[action]
	return h, ok
}

// WithKeyLock runs fn while holding the per-key lock of (userID, store, key).
func (s *SyncService) WithKeyLock(userID, store, key string, fn func() error) error {
	unlock := s.locks.lock(models.CompositeKey(userID, store, key))
	defer unlock()
	return fn()
}

// Enqueue adds an operation to its store queue, superseding any operation
// queued in the same slot.
func (s *SyncService) Enqueue(ctx context.Context, action models.Action, userID, store, key string, payload json.RawMessage) models.PendingOperation {
	op := models.PendingOperation{
		ID:         s.ids.New(),
		Action:     action,
		UserID:     userID,
		Store:      store,
		Key:        key,
		Payload:    payload,
		EnqueuedAt: s.clock.Now(),
	}
	if s.queue.push(op) {
		s.log.Debug(ctx, "superseded queued operation", "store", store, "key", key, "action", action)
	}
	return op
}

// Dequeue cancels the operation queued for (userID, store, key) in family.
func (s *SyncService) Dequeue(userID, store, key string, family models.Family) (models.PendingOperation, bool) {
	return s.queue.remove(store, slotKey(userID, store, key, family))
}

// Queued reports the operation queued for (userID, store, key) in family.
func (s *SyncService) Queued(userID, store, key string, family models.Family) (models.PendingOperation, bool) {
	return s.queue.find(store, slotKey(userID, store, key, family))
}

// Pending returns a copy of the store's queue in FIFO order.
func (s *SyncService) Pending(store string) []models.PendingOperation {
	return s.queue.snapshot(store)
}

// PendingCount is the number of queued operations across stores.
func (s *SyncService) PendingCount() int {
	return s.queue.len()
}

func slotKey(userID, store, key string, family models.Family) string {
	return models.CompositeKey(userID, store, key) + "#" + string(family)
}

// LoadEntities returns the live records of a store, trying each source in
// order. Records pending deletion are never returned.
func (s *SyncService) LoadEntities(ctx context.Context, userID, store string) (LoadResult, error) {
	var lastErr error
	for _, src := range s.sources {
		recs, err := src.load(ctx, userID, store)
		if err != nil {
			if !errors.Is(err, common.ErrOffline) {
				s.log.Warn(ctx, "source failed", "source", src.name(), "store", store, "error", err)
			}
			lastErr = err
			continue
		}
		return LoadResult{Records: recs, Source: src.name(), Stale: src.name() != SourceRemote}, nil
	}

	err := opError("load "+store, lastErr)
	s.bus.Publish(events.Event{Kind: events.SyncFailed, Store: store, Message: err.Message})
	return LoadResult{}, err
}

// Get returns the cached record of a live entity.
func (s *SyncService) Get(ctx context.Context, userID, store, key string) (models.CacheRecord, error) {
	rec, err := s.cache.Get(ctx, userID, store, key)
	if err == nil && rec.PendingDelete {
		err = common.ErrNotFound
	}
	if err != nil {
		return models.CacheRecord{}, opError("load "+key, err)
	}
	return rec, nil
}

// SaveEntity writes payload through to the gateway when online; otherwise, or
// when the gateway fails, it keeps the change locally and queues it.
func (s *SyncService) SaveEntity(ctx context.Context, userID, store, key string, payload json.RawMessage) (Result, error) {
	unlock := s.locks.lock(models.CompositeKey(userID, store, key))
	defer unlock()

	if !s.conn.Online() {
		return s.saveLocal(ctx, userID, store, key, payload, "")
	}

	res, err := s.gateway.Save(ctx, userID, store, key, payload)
	if err != nil {
		s.log.Warn(ctx, "remote save failed, queueing", "store", store, "key", key, "error", err)
		return s.saveLocal(ctx, userID, store, key, payload, describe(err))
	}

	// the server save also takes the entity out of its trash
	s.Dequeue(userID, store, key, models.FamilyData)
	s.Dequeue(userID, store, key, models.FamilyTrash)
	s.bus.Publish(events.Event{Kind: events.SyncSucceeded, Store: store, Key: key, Message: msgSaved})

	if err := s.putActive(ctx, userID, store, key, payload, false); err != nil {
		s.log.Error(ctx, "cache write after remote save failed", "store", store, "key", key, "error", err)
		return Result{ServerID: res.ID, Message: msgSaved + "; " + msgLocalCacheLost}, nil
	}
	if err := s.cache.MarkSynced(ctx, userID, store, key, res.ID); err != nil {
		s.log.Error(ctx, "mark synced failed", "store", store, "key", key, "error", err)
	}
	return Result{ServerID: res.ID, Message: msgSaved}, nil
}

func (s *SyncService) saveLocal(ctx context.Context, userID, store, key string, payload json.RawMessage, reason string) (Result, error) {
	if err := s.putActive(ctx, userID, store, key, payload, true); err != nil {
		opErr := opError("save", err)
		s.log.Error(ctx, "local save failed", "store", store, "key", key, "error", err)
		s.bus.Publish(events.Event{Kind: events.SyncFailed, Store: store, Key: key, Message: opErr.Message})
		return Result{}, opErr
	}

	// a queued save brings the entity back on the server as well
	s.Dequeue(userID, store, key, models.FamilyTrash)
	s.Enqueue(ctx, models.ActionSave, userID, store, key, payload)

	msg := msgQueued
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", msgQueued, reason)
	}
	s.bus.Publish(events.Event{Kind: events.QueuedOffline, Store: store, Key: key, Message: msg})
	return Result{Queued: true, Message: msg}, nil
}

// putActive writes payload to the cache and takes the key out of the local
// trash, if any.
func (s *SyncService) putActive(ctx context.Context, userID, store, key string, payload json.RawMessage, pending bool) error {
	if s.bin != nil {
		return s.bin.putActive(ctx, userID, store, key, payload, pending)
	}
	if err := s.cache.Put(ctx, userID, store, key, payload); err != nil {
		return err
	}
	if !pending {
		return nil
	}
	return s.cache.SetPendingSync(ctx, userID, store, key, true)
}

// DeleteEntity removes the entity remotely when online, otherwise tombstones
// it locally and queues the removal.
func (s *SyncService) DeleteEntity(ctx context.Context, userID, store, key string) (Result, error) {
	unlock := s.locks.lock(models.CompositeKey(userID, store, key))
	defer unlock()

	reason := ""
	if s.conn.Online() {
		err := s.gateway.Remove(ctx, userID, store, key)
		if err == nil || errors.Is(err, common.ErrNotFound) {
			s.Dequeue(userID, store, key, models.FamilyData)
			if err := s.cache.Remove(ctx, userID, store, key); err != nil {
				s.log.Error(ctx, "cache remove after remote delete failed", "store", store, "key", key, "error", err)
			}
			s.bus.Publish(events.Event{Kind: events.SyncSucceeded, Store: store, Key: key, Message: msgDeleted})
			return Result{Message: msgDeleted}, nil
		}
		s.log.Warn(ctx, "remote delete failed, queueing", "store", store, "key", key, "error", err)
		reason = describe(err)
	}

	if err := s.cache.MarkPendingDelete(ctx, userID, store, key); err != nil {
		opErr := opError("delete", err)
		s.log.Error(ctx, "local delete failed", "store", store, "key", key, "error", err)
		s.bus.Publish(events.Event{Kind: events.SyncFailed, Store: store, Key: key, Message: opErr.Message})
		return Result{}, opErr
	}
	s.Enqueue(ctx, models.ActionDelete, userID, store, key, nil)

	msg := msgDeleteQueued
	if reason != "" {
		msg = fmt.Sprintf("%s (%s)", msgDeleteQueued, reason)
	}
	s.bus.Publish(events.Event{Kind: events.QueuedOffline, Store: store, Key: key, Message: msg})
	return Result{Queued: true, Message: msg}, nil
}

// ProcessPendingOperations drains every store queue once. Stores whose drain
// is already in progress are skipped. Nothing happens while offline.
func (s *SyncService) ProcessPendingOperations(ctx context.Context) DrainReport {
	var report DrainReport
	if !s.conn.Online() {
		return report
	}
	for _, store := range s.queue.storeNames() {
		if !s.beginDrain(store) {
			report.Skipped = append(report.Skipped, store)
			continue
		}
		r := s.drainStore(ctx, store)
		s.endDrain(store)

		report.Succeeded += r.Succeeded
		report.Requeued += r.Requeued
		report.Dropped += r.Dropped
	}
	return report
}

func (s *SyncService) beginDrain(store string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining[store] {
		return false
	}
	s.draining[store] = true
	return true
}

func (s *SyncService) endDrain(store string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.draining, store)
}

func (s *SyncService) drainStore(ctx context.Context, store string) DrainReport {
	var report DrainReport

	ops := s.queue.take(store)
	if len(ops) == 0 {
		return report
	}
	s.log.Info(ctx, "drain started", "store", store, "operations", len(ops))
	s.bus.Publish(events.Event{Kind: events.SyncStarted, Store: store})

	var (
		failed  []models.PendingOperation
		blocked = make(map[string]bool)
		lastErr error
	)
	for _, op := range ops {
		ck := models.CompositeKey(op.UserID, op.Store, op.Key)
		if blocked[ck] {
			// an earlier operation on this key failed; keep order
			failed = append(failed, op)
			continue
		}

		err := s.replay(ctx, op)
		if err == nil {
			report.Succeeded++
			continue
		}

		lastErr = err
		blocked[ck] = true
		op.Attempts++
		if op.Attempts >= s.maxRetries {
			report.Dropped++
			msg := fmt.Sprintf("gave up syncing %s %s after %d attempts: %s; %s",
				op.Action, op.Key, op.Attempts, describe(err), msgKeptLocally)
			s.log.Warn(ctx, "dropping operation", "store", store, "key", op.Key, "action", op.Action, "attempts", op.Attempts, "error", err)
			s.bus.Publish(events.Event{Kind: events.RetryExhausted, Store: store, Key: op.Key, Message: msg})
			continue
		}
		s.log.Info(ctx, "operation failed, will retry", "store", store, "key", op.Key, "action", op.Action, "attempts", op.Attempts, "error", err)
		failed = append(failed, op)
	}

	s.queue.requeue(store, failed)
	report.Requeued = len(failed)

	s.log.Info(ctx, "drain finished", "store", store, "succeeded", report.Succeeded, "requeued", report.Requeued, "dropped", report.Dropped)
	if lastErr == nil {
		s.bus.Publish(events.Event{Kind: events.SyncSucceeded, Store: store,
			Message: fmt.Sprintf("synced %d change(s)", report.Succeeded)})
	} else {
		s.bus.Publish(events.Event{Kind: events.SyncFailed, Store: store,
			Message: fmt.Sprintf("%d change(s) not synced: %s", report.Requeued+report.Dropped, describe(lastErr))})
	}
	return report
}

// replay runs the handler of op under its key lock. A missing remote entity
// is success for delete-like actions.
func (s *SyncService) replay(ctx context.Context, op models.PendingOperation) error {
	h, ok := s.handler(op.Action)
	if !ok {
		return fmt.Errorf("no handler for action %q", op.Action)
	}

	unlock := s.locks.lock(models.CompositeKey(op.UserID, op.Store, op.Key))
	defer unlock()

	err := h(ctx, op)
	if err != nil && op.Action.DeleteLike() && errors.Is(err, common.ErrNotFound) {
		s.log.Info(ctx, "already gone on server", "store", op.Store, "key", op.Key, "action", op.Action)
		return nil
	}
	return err
}

// replaySave pushes the current cached payload, or the queued snapshot when
// the record left the active set.
func (s *SyncService) replaySave(ctx context.Context, op models.PendingOperation) error {
	payload := op.Payload
	rec, err := s.cache.Get(ctx, op.UserID, op.Store, op.Key)
	switch {
	case err == nil && rec.PendingDelete:
		return nil
	case err == nil:
		payload = rec.Payload
	case !errors.Is(err, common.ErrNotFound):
		s.log.Warn(ctx, "cache read failed, replaying snapshot", "store", op.Store, "key", op.Key, "error", err)
	}

	res, err := s.gateway.Save(ctx, op.UserID, op.Store, op.Key, payload)
	if err != nil {
		return err
	}
	if err := s.cache.MarkSynced(ctx, op.UserID, op.Store, op.Key, res.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.log.Error(ctx, "mark synced failed", "store", op.Store, "key", op.Key, "error", err)
	}
	return nil
}

func (s *SyncService) replayDelete(ctx context.Context, op models.PendingOperation) error {
	if err := s.gateway.Remove(ctx, op.UserID, op.Store, op.Key); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	rec, err := s.cache.Get(ctx, op.UserID, op.Store, op.Key)
	if err == nil && rec.PendingDelete {
		if err := s.cache.Remove(ctx, op.UserID, op.Store, op.Key); err != nil {
			s.log.Error(ctx, "cache remove failed", "store", op.Store, "key", op.Key, "error", err)
		}
	}
	return nil
}

// Rebuild re-creates queued saves and deletes from the dirty flags left in
// the cache, e.g. after a restart or after an operation was dropped at the
// retry ceiling. Keys that already have an operation queued are left alone.
func (s *SyncService) Rebuild(ctx context.Context, userID string) (int, error) {
	dirty, err := s.cache.ListPending(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("rebuild queue: %w", err)
	}
	n := 0
	for _, rec := range dirty {
		if _, ok := s.Queued(userID, rec.Store, rec.Key, models.FamilyData); ok {
			continue
		}
		if op, ok := s.Queued(userID, rec.Store, rec.Key, models.FamilyTrash); ok && op.Action == models.ActionRestore {
			continue
		}
		if rec.PendingDelete {
			s.Enqueue(ctx, models.ActionDelete, userID, rec.Store, rec.Key, nil)
		} else {
			s.Enqueue(ctx, models.ActionSave, userID, rec.Store, rec.Key, rec.Payload)
		}
		n++
	}
	if n > 0 {
		s.log.Info(ctx, "queue rebuilt from cache", "operations", n)
	}
	return n, nil
}

// Run drains on every interval tick while online and on every offline to
// online transition, until ctx is done.
func (s *SyncService) Run(ctx context.Context) {
	changes, stop := s.conn.Watch()
	defer stop()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPendingOperations(ctx)
		case online := <-changes:
			if online {
				s.ProcessPendingOperations(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}
