package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/dmitrijs2005/shopkeeper/internal/testutil"
)

const user = "u1"

// fakeServer is an in-memory Gateway and TrashGateway. Errors queued in
// fail are returned, one per call, before the method touches any state.
type fakeServer struct {
	mu       sync.Mutex
	entities map[string]map[string]json.RawMessage
	trash    map[string]models.TrashItem
	fail     map[string][]error
	calls    map[string]int
	clock    common.Clock

	// serverIDs overrides the id Save reports for a key.
	serverIDs map[string]string
}

func newFakeServer(clock common.Clock) *fakeServer {
	return &fakeServer{
		entities: make(map[string]map[string]json.RawMessage),
		trash:    make(map[string]models.TrashItem),
		fail:     make(map[string][]error),
		calls:    make(map[string]int),
		clock:    clock,

		serverIDs: make(map[string]string),
	}
}

func (f *fakeServer) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = append(f.fail[method], errs...)
}

func (f *fakeServer) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// enter must be called with mu held.
func (f *fakeServer) enter(method string) error {
	f.calls[method]++
	if errs := f.fail[method]; len(errs) > 0 {
		f.fail[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeServer) put(store, key string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entities[store] == nil {
		f.entities[store] = make(map[string]json.RawMessage)
	}
	f.entities[store][key] = payload
}

func (f *fakeServer) get(store, key string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.entities[store][key]
	return p, ok
}

func (f *fakeServer) trashed(kind models.EntityKind, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.trash[string(kind)+"/"+id]
	return ok
}

func (f *fakeServer) FetchAll(_ context.Context, _, store string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchAll"); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(f.entities[store]))
	for k := range f.entities[store] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.entities[store][k])
	}
	return out, nil
}

func (f *fakeServer) Fetch(_ context.Context, _, store, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Fetch"); err != nil {
		return nil, err
	}
	p, ok := f.entities[store][key]
	if !ok {
		return nil, &client.ServerError{Status: 404, Message: "not found"}
	}
	return p, nil
}

func (f *fakeServer) Save(_ context.Context, _, store, key string, payload json.RawMessage) (client.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Save"); err != nil {
		return client.SaveResult{}, err
	}
	if f.entities[store] == nil {
		f.entities[store] = make(map[string]json.RawMessage)
	}
	f.entities[store][key] = payload
	if kind, err := models.KindForStore(store); err == nil {
		delete(f.trash, string(kind)+"/"+key)
	}
	id := key
	if sid, ok := f.serverIDs[key]; ok {
		id = sid
	}
	return client.SaveResult{ID: id, Success: true}, nil
}

func (f *fakeServer) Remove(_ context.Context, _, store, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Remove"); err != nil {
		return err
	}
	if _, ok := f.entities[store][key]; !ok {
		return &client.ServerError{Status: 404, Message: "not found"}
	}
	delete(f.entities[store], key)
	return nil
}

func (f *fakeServer) SoftDelete(_ context.Context, _ string, kind models.EntityKind, id string) (models.TrashItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SoftDelete"); err != nil {
		return models.TrashItem{}, err
	}
	store, _ := kind.Store()
	p, ok := f.entities[store][id]
	if !ok {
		return models.TrashItem{}, &client.ServerError{Status: 404, Message: "not found"}
	}
	delete(f.entities[store], id)
	item := models.NewTrashItem(kind, id, p, f.clock.Now())
	f.trash[string(kind)+"/"+id] = item
	return item, nil
}

func (f *fakeServer) Restore(_ context.Context, _ string, kind models.EntityKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Restore"); err != nil {
		return err
	}
	item, ok := f.trash[string(kind)+"/"+id]
	if !ok {
		return &client.ServerError{Status: 404, Message: "not found"}
	}
	delete(f.trash, string(kind)+"/"+id)
	store, _ := kind.Store()
	if f.entities[store] == nil {
		f.entities[store] = make(map[string]json.RawMessage)
	}
	f.entities[store][id] = item.Data
	return nil
}

func (f *fakeServer) PermanentDelete(_ context.Context, _ string, kind models.EntityKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PermanentDelete"); err != nil {
		return err
	}
	store, _ := kind.Store()
	_, active := f.entities[store][id]
	_, trashed := f.trash[string(kind)+"/"+id]
	if !active && !trashed {
		return &client.ServerError{Status: 404, Message: "not found"}
	}
	delete(f.entities[store], id)
	delete(f.trash, string(kind)+"/"+id)
	return nil
}

func (f *fakeServer) List(_ context.Context, _ string) ([]models.TrashItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("List"); err != nil {
		return nil, err
	}
	out := make([]models.TrashItem, 0, len(f.trash))
	for _, it := range f.trash {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeServer) Cleanup(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Cleanup"); err != nil {
		return 0, err
	}
	n := 0
	now := f.clock.Now()
	for k, it := range f.trash {
		if it.Expired(now) {
			delete(f.trash, k)
			n++
		}
	}
	return n, nil
}

// fakeConn is a settable Connectivity.
type fakeConn struct {
	mu       sync.Mutex
	online   bool
	watchers []chan bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	for _, ch := range c.watchers {
		select {
		case ch <- online:
		default:
		}
	}
}

func (c *fakeConn) Watch() (<-chan bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan bool, 1)
	c.watchers = append(c.watchers, ch)
	return ch, func() {}
}

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(k events.Kind) int {
	n := 0
	for _, got := range r.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// harness wires the services over an in-memory SQLite cache.
type harness struct {
	db     *sql.DB
	clock  *testutil.StubClock
	server *fakeServer
	conn   *fakeConn
	bus    *recorder
	repos  repomanager.RepositoryManager
	sync   *SyncService
	trash  *TrashService
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	db := testutil.NewLocalDB(t)
	clock := testutil.FixedClock()
	repos := repomanager.NewSQLiteRepositoryManager(clock)

	h := &harness{
		db:     db,
		clock:  clock,
		server: newFakeServer(clock),
		conn:   &fakeConn{online: online},
		bus:    &recorder{},
		repos:  repos,
	}
	h.sync = NewSyncService(repos.Records(db), h.server, h.conn, h.bus, nil, SyncOptions{
		Clock: clock,
		IDs:   &testutil.SeqIDs{},
	})
	h.trash = NewTrashService(db, repos, h.server, h.server, h.sync, nil)
	return h
}

func (h *harness) cached(t *testing.T, store, key string) (models.CacheRecord, bool) {
	t.Helper()
	rec, err := h.repos.Records(h.db).Get(context.Background(), user, store, key)
	if err != nil {
		return models.CacheRecord{}, false
	}
	return rec, true
}

func (h *harness) inTrash(t *testing.T, kind models.EntityKind, id string) (models.TrashItem, bool) {
	t.Helper()
	it, err := h.repos.Trash(h.db).Get(context.Background(), user, kind, id)
	if err != nil {
		return models.TrashItem{}, false
	}
	return it, true
}

func networkErr() error {
	return &client.NetworkError{Op: "test", Err: context.DeadlineExceeded}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }
