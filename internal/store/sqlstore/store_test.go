package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/database"
	"medipos/m/internal/migrations"
	"medipos/m/internal/store"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Connect(database.SQLite, filepath.Join(t.TempDir(), "medipos.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db, database.SQLite))
	t.Cleanup(func() { _ = db.Close() })
	return New(db, database.SQLite)
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMany(ctx, store.Medicines, []store.Document{
		{"id": "m1", "name": "Paracetamol", "stock_quantity": 10, "minimum_stock_level": 5, "created_at": "2024-03-01T09:00:00.000000Z"},
		{"id": "m2", "name": "Ibuprofen", "stock_quantity": 2, "minimum_stock_level": 5, "created_at": "2024-03-02T09:00:00.000000Z"},
	}))
	require.NoError(t, s.Insert(ctx, store.Patients, store.Document{"id": "p1", "name": "Asha"}))

	docs, err := s.Find(ctx, store.Medicines, store.Filter{}, store.SortBy("created_at", true))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m2", docs[0].ID())

	low, err := s.Find(ctx, store.Medicines, store.Where(store.LtField("stock_quantity", "minimum_stock_level")))
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Ibuprofen", low[0]["name"])

	n, err := s.Count(ctx, store.Patients, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.FindOne(ctx, store.Medicines, store.ByID("nope"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Insert(ctx, store.Medicines, store.Document{"id": "m1"}), store.ErrDuplicateID)
}

func TestUpdateUpsertDelete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Doctors, store.Document{"id": "d1", "name": "Dr. Rao", "is_active": true}))

	ok, err := s.UpdateOne(ctx, store.Doctors, store.ByID("d1"), store.Document{"is_active": false})
	require.NoError(t, err)
	assert.True(t, ok)
	doc, err := s.FindOne(ctx, store.Doctors, store.ByID("d1"))
	require.NoError(t, err)
	assert.Equal(t, false, doc["is_active"])
	assert.Equal(t, "Dr. Rao", doc["name"])

	require.NoError(t, s.Upsert(ctx, store.Settings, store.Document{"id": "app_settings", "general": map[string]any{"shop_name": "A"}}))
	require.NoError(t, s.Upsert(ctx, store.Settings, store.Document{"id": "app_settings", "general": map[string]any{"shop_name": "B"}}))
	n, err := s.Count(ctx, store.Settings, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	deleted, err := s.DeleteOne(ctx, store.Doctors, store.ByID("d1"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteOne(ctx, store.Doctors, store.ByID("d1"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteManyWithFilter(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, store.Backups, []store.Document{
		{"id": "b1", "created_at": "2024-01-01T00:00:00.000000Z"},
		{"id": "b2", "created_at": "2024-06-01T00:00:00.000000Z"},
		{"id": "b3", "created_at": "2024-07-01T00:00:00.000000Z"},
	}))

	n, err := s.DeleteMany(ctx, store.Backups, store.Where(store.Lt("created_at", "2024-06-15T00:00:00.000000Z")))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	left, err := s.Find(ctx, store.Backups, store.Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b3", left[0].ID())
}

func TestIncrementIsAtomic(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, store.Medicines, store.Document{"id": "m1", "stock_quantity": 20}))

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, store.Medicines, "m1", "stock_quantity", -1, 0); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, ok.Load())
	doc, err := s.FindOne(ctx, store.Medicines, store.ByID("m1"))
	require.NoError(t, err)
	stock, _ := doc.Int("stock_quantity")
	assert.EqualValues(t, 0, stock)
}

func TestReplaceAllIsTransactional(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, store.Medicines, []store.Document{{"id": "a"}, {"id": "b"}}))

	err := s.ReplaceAll(ctx, store.Medicines, []store.Document{{"id": "x"}, {"id": "x"}})
	assert.ErrorIs(t, err, store.ErrDuplicateID)
	n, err := s.Count(ctx, store.Medicines, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, s.ReplaceAll(ctx, store.Medicines, []store.Document{{"id": "c"}}))
	docs, err := s.Find(ctx, store.Medicines, store.Filter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID())
}
