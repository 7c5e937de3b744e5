package services

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lifecycleIDs = []string{"dev-1", "dev-2", "dev-3"}

// lifecycleStep is one user or background action on a device id.
type lifecycleStep struct {
	name string
	run  func(ctx context.Context, h *harness, id string, n int) (purged, saved bool)
}

var lifecycleSteps = []lifecycleStep{
	{"go offline", func(_ context.Context, h *harness, _ string, _ int) (bool, bool) {
		h.conn.Set(false)
		return false, false
	}},
	{"go online", func(_ context.Context, h *harness, _ string, _ int) (bool, bool) {
		h.conn.Set(true)
		return false, false
	}},
	{"save", func(ctx context.Context, h *harness, id string, n int) (bool, bool) {
		_, err := h.sync.SaveEntity(ctx, user, "devices", id, raw(fmt.Sprintf(`{"id":%q,"model":"v%d"}`, id, n)))
		return false, err == nil
	}},
	{"trash", func(ctx context.Context, h *harness, id string, _ int) (bool, bool) {
		_, _ = h.trash.Trash(ctx, user, models.KindDevice, id)
		return false, false
	}},
	{"restore", func(ctx context.Context, h *harness, id string, _ int) (bool, bool) {
		_, _ = h.trash.Restore(ctx, user, models.KindDevice, id)
		return false, false
	}},
	{"purge", func(ctx context.Context, h *harness, id string, _ int) (bool, bool) {
		if _, err := h.repos.Trash(h.db).Get(ctx, user, models.KindDevice, id); err != nil {
			return false, false
		}
		_, err := h.trash.PermanentlyDelete(ctx, user, models.KindDevice, id)
		return err == nil, false
	}},
	{"drain", func(ctx context.Context, h *harness, _ string, _ int) (bool, bool) {
		h.sync.ProcessPendingOperations(ctx)
		return false, false
	}},
	{"load", func(ctx context.Context, h *harness, _ string, _ int) (bool, bool) {
		_, _ = h.sync.LoadEntities(ctx, user, "devices")
		return false, false
	}},
	{"list trash", func(ctx context.Context, h *harness, _ string, _ int) (bool, bool) {
		_, _ = h.trash.ListAll(ctx, user)
		return false, false
	}},
}

// TestActiveAndTrashStayDisjoint runs random mixes of saves, trash moves,
// restores, purges, drains, loads and reconnects. Every id must be in exactly
// one of the active set and the trash unless it was purged, and once online
// and drained the client must agree with the server.
func TestActiveAndTrashStayDisjoint(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			ctx := context.Background()
			rnd := rand.New(rand.NewSource(seed))
			h := newHarness(t, true)

			gone := make(map[string]bool, len(lifecycleIDs))
			for _, id := range lifecycleIDs {
				_, err := h.sync.SaveEntity(ctx, user, "devices", id, raw(fmt.Sprintf(`{"id":%q}`, id)))
				require.NoError(t, err)
			}

			var trail []string
			for n := 0; n < 60; n++ {
				step := lifecycleSteps[rnd.Intn(len(lifecycleSteps))]
				id := lifecycleIDs[rnd.Intn(len(lifecycleIDs))]
				trail = append(trail, step.name+" "+id)

				purged, saved := step.run(ctx, h, id, n)
				if purged {
					gone[id] = true
				}
				if saved {
					gone[id] = false
				}

				for _, id := range lifecycleIDs {
					_, active := h.cached(t, "devices", id)
					_, trashed := h.inTrash(t, models.KindDevice, id)
					require.False(t, active && trashed, "%s both active and trashed after %v", id, trail)
					if !gone[id] {
						require.True(t, active || trashed, "%s lost after %v", id, trail)
					}
				}
			}

			h.conn.Set(true)
			for i := 0; i < 3 && h.sync.PendingCount() > 0; i++ {
				h.sync.ProcessPendingOperations(ctx)
			}
			require.Zero(t, h.sync.PendingCount(), "queue not drained after %v", trail)
			_, err := h.trash.ListAll(ctx, user)
			require.NoError(t, err)
			_, err = h.sync.LoadEntities(ctx, user, "devices")
			require.NoError(t, err)

			for _, id := range lifecycleIDs {
				_, active := h.cached(t, "devices", id)
				item, trashed := h.inTrash(t, models.KindDevice, id)
				_, serverActive := h.server.get("devices", id)
				assert.Equal(t, serverActive, active, "%s active after %v", id, trail)
				assert.Equal(t, h.server.trashed(models.KindDevice, id), trashed, "%s trashed after %v", id, trail)
				assert.False(t, item.Pending, "%s still unconfirmed after %v", id, trail)
				assert.False(t, active && trashed, id)
			}
		})
	}
}
