package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceJSON = `{"id":"dev-7","customerId":"c1","brand":"Acme","model":"X1","imei":"123","description":"cracked screen"}`

// seedDevice puts dev-7 on the server and, clean, in the cache.
func seedDevice(t *testing.T, h *harness) {
	t.Helper()
	h.server.put("devices", "dev-7", raw(deviceJSON))
	require.NoError(t, h.repos.Records(h.db).Replace(context.Background(), models.CacheRecord{
		UserID: user, Store: "devices", Key: "dev-7", Payload: raw(deviceJSON), ServerID: "dev-7",
	}))
}

// exactlyOneSet checks that id is either active or trashed locally, not both.
func exactlyOneSet(t *testing.T, h *harness, store string, kind models.EntityKind, id string) {
	t.Helper()
	_, active := h.cached(t, store, id)
	_, trashed := h.inTrash(t, kind, id)
	assert.True(t, active != trashed, "active=%v trashed=%v", active, trashed)
}

func TestTrash_OnlineMovesToTrash(t *testing.T) {
	h := newHarness(t, true)
	seedDevice(t, h)

	res, err := h.trash.Trash(context.Background(), user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, msgTrashed, res.Message)

	item, ok := h.inTrash(t, models.KindDevice, "dev-7")
	require.True(t, ok)
	assert.False(t, item.Pending)
	assert.Equal(t, "cracked screen", item.Name)
	assert.True(t, h.server.trashed(models.KindDevice, "dev-7"))
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
	assert.Equal(t, []events.Kind{events.TrashChanged}, h.bus.kinds())
}

func TestTrash_ServerErrorLeavesEntityActive(t *testing.T) {
	h := newHarness(t, true)
	seedDevice(t, h)
	h.server.failNext("SoftDelete", &client.ServerError{Status: 500, Message: "trash unavailable"})

	_, err := h.trash.Trash(context.Background(), user, models.KindDevice, "dev-7")
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "failed to move to trash: trash unavailable", opErr.Message)

	_, active := h.cached(t, "devices", "dev-7")
	assert.True(t, active)
	_, trashed := h.inTrash(t, models.KindDevice, "dev-7")
	assert.False(t, trashed)
	assert.Zero(t, h.sync.PendingCount())
	assert.Equal(t, []events.Kind{events.TrashFailed}, h.bus.kinds())
}

func TestTrash_FormatErrorLeavesEntityActive(t *testing.T) {
	h := newHarness(t, true)
	seedDevice(t, h)
	h.server.failNext("SoftDelete", &client.FormatError{Op: "soft delete", Shape: "array"})

	_, err := h.trash.Trash(context.Background(), user, models.KindDevice, "dev-7")
	require.ErrorIs(t, err, common.ErrFormat)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
	_, active := h.cached(t, "devices", "dev-7")
	assert.True(t, active)
}

func TestTrash_NetworkErrorQueues(t *testing.T) {
	h := newHarness(t, true)
	seedDevice(t, h)
	h.server.failNext("SoftDelete", networkErr())

	res, err := h.trash.Trash(context.Background(), user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)

	item, ok := h.inTrash(t, models.KindDevice, "dev-7")
	require.True(t, ok)
	assert.True(t, item.Pending)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")

	report := h.sync.ProcessPendingOperations(context.Background())
	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, h.server.trashed(models.KindDevice, "dev-7"))
	item, _ = h.inTrash(t, models.KindDevice, "dev-7")
	assert.False(t, item.Pending)
}

func TestTrash_OfflineUsesCachedSnapshot(t *testing.T) {
	h := newHarness(t, false)
	seedDevice(t, h)

	res, err := h.trash.Trash(context.Background(), user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Zero(t, h.server.callCount("Fetch"))

	item, ok := h.inTrash(t, models.KindDevice, "dev-7")
	require.True(t, ok)
	assert.JSONEq(t, deviceJSON, string(item.Data))
}

func TestTrash_UnknownEntity(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.trash.Trash(context.Background(), user, models.KindDevice, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)

	h.conn.Set(true)
	_, err = h.trash.Trash(context.Background(), user, models.KindDevice, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestTrash_FlushesUnsyncedEditFirst(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	seedDevice(t, h)
	edited := `{"id":"dev-7","brand":"Acme","model":"X2"}`
	_, err := h.sync.SaveEntity(ctx, user, "devices", "dev-7", raw(edited))
	require.NoError(t, err)

	h.conn.Set(true)
	_, err = h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	item, ok := h.inTrash(t, models.KindDevice, "dev-7")
	require.True(t, ok)
	assert.JSONEq(t, edited, string(item.Data))
	assert.Zero(t, h.sync.PendingCount())
	assert.True(t, h.server.trashed(models.KindDevice, "dev-7"))
}

func TestTrashRestore_RoundTrip(t *testing.T) {
	for _, online := range []bool{true, false} {
		h := newHarness(t, online)
		ctx := context.Background()
		seedDevice(t, h)

		_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
		require.NoError(t, err)
		_, err = h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
		require.NoError(t, err)

		rec, ok := h.cached(t, "devices", "dev-7")
		require.True(t, ok, "online=%v", online)
		assert.JSONEq(t, deviceJSON, string(rec.Payload))
		_, trashed := h.inTrash(t, models.KindDevice, "dev-7")
		assert.False(t, trashed)
	}
}

func TestRestore_CancelsQueuedTrash(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	seedDevice(t, h)

	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	require.Len(t, h.sync.Pending("devices"), 1)

	res, err := h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Zero(t, h.sync.PendingCount())

	rec, ok := h.cached(t, "devices", "dev-7")
	require.True(t, ok)
	assert.False(t, rec.PendingSync)
}

func TestRestore_OfflineQueuesRestore(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(false)
	res, err := h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)

	rec, ok := h.cached(t, "devices", "dev-7")
	require.True(t, ok)
	assert.True(t, rec.PendingSync)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")

	h.conn.Set(true)
	report := h.sync.ProcessPendingOperations(ctx)
	assert.Equal(t, 1, report.Succeeded)
	_, onServer := h.server.get("devices", "dev-7")
	assert.True(t, onServer)
	rec, _ = h.cached(t, "devices", "dev-7")
	assert.False(t, rec.PendingSync)
}

func TestRestore_ServerLostTrashEntry(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	require.NoError(t, h.server.PermanentDelete(ctx, user, models.KindDevice, "dev-7"))

	res, err := h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)

	h.sync.ProcessPendingOperations(ctx)
	p, ok := h.server.get("devices", "dev-7")
	require.True(t, ok)
	assert.JSONEq(t, deviceJSON, string(p))
}

func TestRestore_MissingItem(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.trash.Restore(context.Background(), user, models.KindDevice, "ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 1, h.bus.count(events.TrashFailed))
}

func TestPermanentlyDelete_Online(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	res, err := h.trash.PermanentlyDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.False(t, res.Queued)
	_, trashed := h.inTrash(t, models.KindDevice, "dev-7")
	assert.False(t, trashed)
	assert.False(t, h.server.trashed(models.KindDevice, "dev-7"))

	res, err = h.trash.PermanentlyDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err, "idempotent while online")
	assert.Equal(t, msgPurged, res.Message)
}

func TestPermanentlyDelete_RemoteFailureQueuesPurge(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	h.bus.reset()

	h.server.failNext("PermanentDelete", &client.ServerError{Status: 503, Message: "maintenance"})
	res, err := h.trash.PermanentlyDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Contains(t, res.Message, "maintenance")

	_, trashed := h.inTrash(t, models.KindDevice, "dev-7")
	assert.False(t, trashed, "local row goes regardless")

	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list.Items, "queued purge hides the server copy")

	h.sync.ProcessPendingOperations(ctx)
	assert.False(t, h.server.trashed(models.KindDevice, "dev-7"))
	assert.Zero(t, h.sync.PendingCount())
}

func TestPermanentlyDelete_OfflineAfterOfflineTrash(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	res, err := h.trash.PermanentlyDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	ops := h.sync.Pending("devices")
	require.Len(t, ops, 1)
	assert.Equal(t, models.ActionPurge, ops[0].Action)

	h.conn.Set(true)
	h.sync.ProcessPendingOperations(ctx)
	_, onServer := h.server.get("devices", "dev-7")
	assert.False(t, onServer)
	assert.False(t, h.server.trashed(models.KindDevice, "dev-7"))
}

func TestPermanentlyDelete_MissingOffline(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.trash.PermanentlyDelete(context.Background(), user, models.KindDevice, "ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListAll_RefreshesFromServerAndKeepsPending(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	now := h.clock.Now()

	require.NoError(t, h.repos.Trash(h.db).Add(ctx, user, models.TrashItem{
		ID: "stale", Type: models.KindCustomer, Name: "gone on server", DeletedAt: now, Data: raw(`{}`),
	}))
	require.NoError(t, h.repos.Trash(h.db).Add(ctx, user, models.TrashItem{
		ID: "mine", Type: models.KindCustomer, Name: "offline", DeletedAt: now, Data: raw(`{}`), Pending: true,
	}))
	h.server.put("devices", "dev-7", raw(deviceJSON))
	_, err := h.server.SoftDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, list.Source)
	assert.False(t, list.Stale)

	ids := []string{}
	for _, it := range list.Items {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{"dev-7", "mine"}, ids)
}

func TestListAll_OfflineIsStale(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.server.failNext("List", networkErr())
	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.True(t, list.Stale)
	require.Len(t, list.Items, 1)

	h.conn.Set(false)
	list, err = h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, list.Source)
	require.Len(t, list.Items, 1)
}

func TestCleanupExpired_PurgesOldItems(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.server.put("documents", "doc-9", raw(`{"id":"doc-9","number":"NF-9"}`))
	_, err := h.trash.Trash(ctx, user, models.KindDocument, "doc-9")
	require.NoError(t, err)
	h.server.put("documents", "doc-10", raw(`{"id":"doc-10"}`))

	h.clock.Advance(70 * 24 * time.Hour)
	_, err = h.trash.Trash(ctx, user, models.KindDocument, "doc-10")
	require.NoError(t, err)

	n, err := h.trash.CleanupExpired(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := h.inTrash(t, models.KindDocument, "doc-9")
	assert.False(t, ok)
	assert.False(t, h.server.trashed(models.KindDocument, "doc-9"))
	_, ok = h.inTrash(t, models.KindDocument, "doc-10")
	assert.True(t, ok)

	last, err := h.repos.Metadata(h.db).GetTime(ctx, metadata.KeyLastCleanup)
	require.NoError(t, err)
	assert.True(t, last.Equal(h.clock.Now()))
}

func TestCleanupExpired_OfflineNoop(t *testing.T) {
	h := newHarness(t, false)
	n, err := h.trash.CleanupExpired(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.server.callCount("Cleanup"))
}

func TestCleanupExpired_ServerFailure(t *testing.T) {
	h := newHarness(t, true)
	h.server.failNext("Cleanup", &client.ServerError{Status: 500, Message: "nope"})
	_, err := h.trash.CleanupExpired(context.Background(), user)
	require.Error(t, err)
	assert.Equal(t, 1, h.bus.count(events.TrashFailed))
}

func TestRunCleanup_SkipsWhenRecent(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.repos.Metadata(h.db).SetTime(ctx, metadata.KeyLastCleanup, h.clock.Now().Add(-time.Hour)))

	done := make(chan struct{})
	go func() {
		h.trash.RunCleanup(ctx, user, 24*time.Hour)
		close(done)
	}()
	require.Eventually(t, func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return len(h.conn.watchers) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, h.server.callCount("Cleanup"))
}

func TestRunCleanup_RunsWhenDue(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.trash.RunCleanup(ctx, user, 24*time.Hour)
		close(done)
	}()
	require.Eventually(t, func() bool { return h.server.callCount("Cleanup") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestTrashRebuild_RequeuesUnconfirmed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	fresh := NewSyncService(h.repos.Records(h.db), h.server, h.conn, h.bus, nil, SyncOptions{Clock: h.clock})
	trash := NewTrashService(h.db, h.repos, h.server, h.server, fresh, nil)
	n, err := trash.Rebuild(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ops := fresh.Pending("devices")
	require.Len(t, ops, 1)
	assert.Equal(t, models.ActionTrash, ops[0].Action)
}

func TestLoadEntities_OfflineTrashStaysTrashed(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)

	h.conn.Set(false)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(true)
	res, err := h.sync.LoadEntities(ctx, user, "devices")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Empty(t, res.Records, "server copy is still active until the drain")
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")

	h.sync.ProcessPendingOperations(ctx)
	assert.True(t, h.server.trashed(models.KindDevice, "dev-7"))
	res, err = h.sync.LoadEntities(ctx, user, "devices")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
}

func TestLoadEntities_UnconfirmedTrashWithoutQueuedOperation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	// as after a drop at the retry ceiling
	_, ok := h.sync.Dequeue(user, "devices", "dev-7", models.FamilyTrash)
	require.True(t, ok)

	h.conn.Set(true)
	res, err := h.sync.LoadEntities(ctx, user, "devices")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	item, ok := h.inTrash(t, models.KindDevice, "dev-7")
	require.True(t, ok)
	assert.True(t, item.Pending)
}

func TestLoadEntities_RestoredElsewhereLeavesTrash(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	require.NoError(t, h.server.Restore(ctx, user, models.KindDevice, "dev-7"))

	res, err := h.sync.LoadEntities(ctx, user, "devices")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "dev-7", res.Records[0].Key)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
}

func TestListAll_OfflineRestoreStaysActive(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(false)
	_, err = h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(true)
	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, list.Source)
	assert.Empty(t, list.Items, "server copy is still trashed until the drain")
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")

	h.sync.ProcessPendingOperations(ctx)
	assert.False(t, h.server.trashed(models.KindDevice, "dev-7"))
	list, err = h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	rec, ok := h.cached(t, "devices", "dev-7")
	require.True(t, ok)
	assert.False(t, rec.PendingSync)
}

func TestListAll_TrashedElsewhereLeavesActiveSet(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.server.SoftDelete(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "dev-7", list.Items[0].ID)
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
}

func TestListAll_FailedRefreshKeepsLocalCopy(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	now := h.clock.Now()

	require.NoError(t, h.repos.Trash(h.db).Add(ctx, user, models.TrashItem{
		ID: "kept", Type: models.KindCustomer, Name: "synced earlier", DeletedAt: now, Data: raw(`{}`),
	}))
	h.server.put("devices", "broken", raw(`{"id":"broken"}`))
	_, err := h.server.SoftDelete(ctx, user, models.KindDevice, "broken")
	require.NoError(t, err)
	_, err = h.db.ExecContext(ctx, `CREATE TRIGGER reject_broken BEFORE INSERT ON trash
		WHEN NEW.id = 'broken' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	list, err := h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, list.Source)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "broken", list.Items[0].ID)

	h.conn.Set(false)
	list, err = h.trash.ListAll(ctx, user)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "kept", list.Items[0].ID, "local copy survives the failed refresh")
}

func TestTrash_OnlineSupersedesQueuedRestore(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	seedDevice(t, h)
	_, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(false)
	_, err = h.trash.Restore(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)

	h.conn.Set(true)
	res, err := h.trash.Trash(ctx, user, models.KindDevice, "dev-7")
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Zero(t, h.sync.PendingCount())

	h.sync.ProcessPendingOperations(ctx)
	assert.True(t, h.server.trashed(models.KindDevice, "dev-7"))
	exactlyOneSet(t, h, "devices", models.KindDevice, "dev-7")
	_, active := h.cached(t, "devices", "dev-7")
	assert.False(t, active)
}
