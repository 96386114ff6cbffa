package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"medipos/m/internal/store"
)

func TestToBSON(t *testing.T) {
	assert.Equal(t, bson.M{}, toBSON(store.Filter{}))
	assert.Equal(t, bson.M{"id": "m1"}, toBSON(store.ByID("m1")))

	got := toBSON(store.Where(
		store.Gte("created_at", "2024-01-01"),
		store.Lte("created_at", "2024-01-31"),
	))
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"created_at": bson.M{"$gte": "2024-01-01"}},
		{"created_at": bson.M{"$lte": "2024-01-31"}},
	}}, got)

	got = toBSON(store.Filter{}.Or(store.Contains("name", "a.b"), store.Eq("phone", "123")))
	assert.Equal(t, bson.M{"$or": []bson.M{
		{"name": bson.M{"$regex": `a\.b`, "$options": "i"}},
		{"phone": "123"},
	}}, got)

	got = toBSON(store.Where(store.LtField("stock_quantity", "minimum_stock_level")))
	assert.Equal(t, bson.M{"$expr": bson.M{"$lt": bson.A{"$stock_quantity", "$minimum_stock_level"}}}, got)
}

func connectForTest(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	cfg := DefaultConfig()
	cfg.URI = uri
	cfg.Database = "medipos_test_" + uuid.NewString()[:8]
	cfg.ConnectTimeout = 3 * time.Second

	s, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		_ = s.database.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	require.NoError(t, s.EnsureIndexes(context.Background()))
	return s
}

func TestStoreAgainstMongo(t *testing.T) {
	s := connectForTest(t)
	exerciseStore(t, s)
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.InsertMany(ctx, store.Medicines, []store.Document{
		{"id": "m1", "name": "Paracetamol", "stock_quantity": 10.0, "minimum_stock_level": 5.0},
		{"id": "m2", "name": "Ibuprofen", "stock_quantity": 1.0, "minimum_stock_level": 5.0},
	}))
	assert.ErrorIs(t, s.Insert(ctx, store.Medicines, store.Document{"id": "m1"}), store.ErrDuplicateID)

	low, err := s.Find(ctx, store.Medicines, store.Where(store.LtField("stock_quantity", "minimum_stock_level")))
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "m2", low[0].ID())
	_, hasObjectID := low[0]["_id"]
	assert.False(t, hasObjectID)

	v, err := s.Increment(ctx, store.Medicines, "m1", "stock_quantity", -10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
	_, err = s.Increment(ctx, store.Medicines, "m1", "stock_quantity", -1, 0)
	assert.ErrorIs(t, err, store.ErrBelowFloor)
	_, err = s.Increment(ctx, store.Medicines, "zz", "stock_quantity", -1, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ok, err := s.UpdateOne(ctx, store.Medicines, store.ByID("m2"), store.Document{"name": "Ibuprofen 400"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReplaceAll(ctx, store.Medicines, []store.Document{{"id": "m3", "name": "Cetirizine"}}))
	n, err := s.Count(ctx, store.Medicines, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
