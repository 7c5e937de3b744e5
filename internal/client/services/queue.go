package services

import (
	"sort"
	"sync"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
)

// opQueue holds pending operations in one FIFO per store. At most one
// operation per slot (user, store, key, family) is queued; a newer one
// replaces the older and moves to the back.
type opQueue struct {
	mu     sync.Mutex
	stores map[string][]models.PendingOperation
}

func newOpQueue() *opQueue {
	return &opQueue{stores: make(map[string][]models.PendingOperation)}
}

// push enqueues op and reports whether it superseded a queued one.
func (q *opQueue) push(op models.PendingOperation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, replaced := without(q.stores[op.Store], op.SlotKey())
	q.stores[op.Store] = append(list, op)
	return replaced
}

// take returns the store's queue and clears it.
func (q *opQueue) take(store string) []models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.stores[store]
	delete(q.stores, store)
	return ops
}

// requeue puts failed operations back in front of anything queued while the
// drain was running, unless a newer operation took their slot meanwhile.
func (q *opQueue) requeue(store string, failed []models.PendingOperation) {
	if len(failed) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	current := q.stores[store]
	taken := make(map[string]bool, len(current))
	for _, op := range current {
		taken[op.SlotKey()] = true
	}

	merged := make([]models.PendingOperation, 0, len(failed)+len(current))
	for _, op := range failed {
		if !taken[op.SlotKey()] {
			merged = append(merged, op)
		}
	}
	q.stores[store] = append(merged, current...)
}

// remove drops the operation queued in slot and returns it.
func (q *opQueue) remove(store, slot string) (models.PendingOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.stores[store] {
		if op.SlotKey() == slot {
			q.stores[store] = append(q.stores[store][:i:i], q.stores[store][i+1:]...)
			return op, true
		}
	}
	return models.PendingOperation{}, false
}

func (q *opQueue) find(store, slot string) (models.PendingOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.stores[store] {
		if op.SlotKey() == slot {
			return op, true
		}
	}
	return models.PendingOperation{}, false
}

// snapshot copies the store's queue in FIFO order.
func (q *opQueue) snapshot(store string) []models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.PendingOperation(nil), q.stores[store]...)
}

// storeNames lists stores with queued work, sorted.
func (q *opQueue) storeNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.stores))
	for s, ops := range q.stores {
		if len(ops) > 0 {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, ops := range q.stores {
		n += len(ops)
	}
	return n
}

func without(list []models.PendingOperation, slot string) ([]models.PendingOperation, bool) {
	for i, op := range list {
		if op.SlotKey() == slot {
			out := make([]models.PendingOperation, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}
