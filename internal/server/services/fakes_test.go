package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/server/models"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/entities"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/trash"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/shopkeeper/internal/testutil"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	byName    map[string]*models.User
	createErr error
	getErr    error
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.byName[u.UserName]; ok {
		return nil, common.ErrAlreadyExists
	}
	u.ID = "id-" + u.UserName
	m.byName[u.UserName] = u
	return u, nil
}

func (m *memUsers) GetByUserName(_ context.Context, name string) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byName[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}

type memEntities struct {
	mu        sync.Mutex
	rows      map[[3]string]models.Entity
	upsertErr error
}

func (m *memEntities) List(_ context.Context, userID, store string) ([]models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Entity
	for k, e := range m.rows {
		if k[0] == userID && k[1] == store {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memEntities) Get(_ context.Context, userID, store, key string) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[[3]string{userID, store, key}]
	if !ok {
		return models.Entity{}, common.ErrNotFound
	}
	return e, nil
}

func (m *memEntities) Upsert(_ context.Context, e models.Entity) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[3]string{e.UserID, e.Store, e.Key}] = e
	return nil
}

func (m *memEntities) Delete(_ context.Context, userID, store, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [3]string{userID, store, key}
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

type memTrash struct {
	mu        sync.Mutex
	rows      map[[3]string]models.TrashEntry
	deleteErr error
}

func (m *memTrash) Put(_ context.Context, e models.TrashEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[3]string{e.UserID, e.Kind, e.ID}] = e
	return nil
}

func (m *memTrash) Get(_ context.Context, userID, kind, id string) (models.TrashEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[[3]string{userID, kind, id}]
	if !ok {
		return models.TrashEntry{}, common.ErrNotFound
	}
	return e, nil
}

func (m *memTrash) List(_ context.Context, userID string) ([]models.TrashEntry, error) {
	return m.filter(userID, func(models.TrashEntry) bool { return true }), nil
}

func (m *memTrash) Delete(_ context.Context, userID, kind, id string) (bool, error) {
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [3]string{userID, kind, id}
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

func (m *memTrash) ListExpired(_ context.Context, userID string, before time.Time) ([]models.TrashEntry, error) {
	return m.filter(userID, func(e models.TrashEntry) bool { return e.DeletedAt.Before(before) }), nil
}

func (m *memTrash) DeleteExpired(ctx context.Context, userID string, before time.Time) (int, error) {
	expired, _ := m.ListExpired(ctx, userID, before)
	for _, e := range expired {
		_, _ = m.Delete(ctx, userID, e.Kind, e.ID)
	}
	return len(expired), nil
}

func (m *memTrash) filter(userID string, keep func(models.TrashEntry) bool) []models.TrashEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrashEntry
	for k, e := range m.rows {
		if k[0] == userID && keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(out[j].DeletedAt) })
	return out
}

type fakeRepoManager struct {
	users    *memUsers
	entities *memEntities
	trash    *memTrash
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:    &memUsers{byName: map[string]*models.User{}},
		entities: &memEntities{rows: map[[3]string]models.Entity{}},
		trash:    &memTrash{rows: map[[3]string]models.TrashEntry{}},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) Entities(dbx.DBTX) entities.Repository        { return m.entities }
func (m *fakeRepoManager) Trash(dbx.DBTX) trash.Repository              { return m.trash }

// newMockDB returns a sqlmock database that accepts any number of
// transactions, each ending in commit or rollback.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, commit bool) {
	mock.ExpectBegin()
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newClock() *testutil.StubClock {
	return testutil.NewStubClock(t0)
}
