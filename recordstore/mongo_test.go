package recordstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/types"
)

func TestMongoStore_ImplementsStore(t *testing.T) {
	var _ Store = (*MongoStore)(nil)
}

func TestMongoRecordRoundTrip(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.MemoryRecord{
		ID:          "r1",
		Namespace:   "agents",
		Layer:       types.LayerSemantic,
		Text:        "golang uses goroutines",
		ContentHash: "h1",
		Source:      "chat",
		Metadata:    map[string]any{"origin": "unit"},
		CreatedAt:   base,
	}

	doc := toMongoRecord(rec)
	assert.Equal(t, "r1", doc.ID)
	assert.Equal(t, "semantic", doc.Layer)
	assert.True(t, doc.CreatedAt.Equal(base))
	assert.Nil(t, doc.TombstonedAt)

	back := fromMongoRecord(doc)
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Namespace, back.Namespace)
	assert.Equal(t, rec.Layer, back.Layer)
	assert.Equal(t, rec.Text, back.Text)
	assert.Equal(t, rec.ContentHash, back.ContentHash)
	assert.Equal(t, rec.Source, back.Source)
	assert.Equal(t, rec.Metadata, back.Metadata)
	assert.True(t, back.CreatedAt.Equal(base))

	// 零值时间落库前补当前时间
	doc = toMongoRecord(&types.MemoryRecord{ID: "r2", Namespace: "agents", Layer: types.LayerEpisodic})
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestMongoVisibleFilter(t *testing.T) {
	filter := mongoVisible(bson.M{"namespace": "agents", "_id": "r1"})
	assert.Equal(t, "agents", filter["namespace"])
	assert.Equal(t, "r1", filter["_id"])

	// nil 同时匹配字段缺失和显式 null
	v, ok := filter["tombstonedAt"]
	require.True(t, ok)
	assert.Nil(t, v)
}

// ====== 集成测试（需要可达的 MongoDB）======

func newMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("MNEMO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MNEMO_TEST_MONGO_URI not set, skipping integration test")
	}

	dbName := fmt.Sprintf("mnemo_test_%d", time.Now().UnixNano())
	store, err := NewMongoStore(context.Background(), MongoConfig{URI: uri, Database: dbName}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.client.Database(dbName).Drop(context.Background())
		_ = store.Close()
	})
	return store
}

func TestMongoStore_RecordLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMongoTestStore(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := testRecord("r1", "agents", types.LayerSemantic, base)
	rec.Metadata = map[string]any{"origin": "unit"}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, "agents", "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "text of r1", got.Text)
	assert.Equal(t, "unit", got.Metadata["origin"])
	assert.True(t, got.CreatedAt.Equal(base))

	missing, err := store.Get(ctx, "agents", "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 去重命中同键最早的一条
	dup := testRecord("r2", "agents", types.LayerSemantic, base.Add(time.Hour))
	dup.ContentHash = "hash-r1"
	require.NoError(t, store.Insert(ctx, dup))

	hit, err := store.FindByDedupKey(ctx, "agents", types.LayerSemantic, "hash-r1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "r1", hit.ID)

	// 墓碑后不可见，硬删除仍可命中墓碑行
	require.NoError(t, store.Tombstone(ctx, "agents", "r1"))

	got, err = store.Get(ctx, "agents", "r1")
	require.NoError(t, err)
	assert.Nil(t, got)

	hit, err = store.FindByDedupKey(ctx, "agents", types.LayerSemantic, "hash-r1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "r2", hit.ID)

	records, err := store.GetMany(ctx, "agents", []string{"r1", "r2", "ghost"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ID)

	deleted, err := store.Delete(ctx, "agents", "r1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "agents", "r1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMongoStore_ListSinceAndStats(t *testing.T) {
	ctx := context.Background()
	store := newMongoTestStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	t0, t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour), base.Add(3*time.Hour)

	require.NoError(t, store.Insert(ctx, testRecord("r0", "agents", types.LayerEpisodic, t0)))
	require.NoError(t, store.Insert(ctx, testRecord("r1", "agents", types.LayerEpisodic, t1)))
	require.NoError(t, store.Insert(ctx, testRecord("r2", "agents", types.LayerSemantic, t2)))
	require.NoError(t, store.Insert(ctx, testRecord("r3", "agents", types.LayerProcedural, t3)))

	records, err := store.ListSince(ctx, "agents",
		[]types.MemoryLayer{types.LayerEpisodic, types.LayerSemantic}, t0, t2, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r2", records[1].ID)

	records, err = store.ListSince(ctx, "agents", nil, time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[0].ID)
	assert.Equal(t, "r3", records[1].ID)

	stats, err := store.Stats(ctx, "agents")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.ByLayer["episodic"])
	assert.Equal(t, int64(1), stats.ByLayer["semantic"])
	assert.True(t, stats.OldestRecord.Equal(t0))
	assert.True(t, stats.NewestRecord.Equal(t3))

	namespaces, err := store.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"agents"}, namespaces)

	empty, err := store.Stats(ctx, "vacant")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalRecords)
}

func TestMongoStore_PinsAndMarks(t *testing.T) {
	ctx := context.Background()
	store := newMongoTestStore(t)

	pin, err := store.GetPin(ctx, "agents")
	require.NoError(t, err)
	assert.Nil(t, pin)

	require.NoError(t, store.SetPin(ctx, &types.NamespacePin{
		Namespace: "agents", ProviderID: "openai/text-embedding-3-small", Dimension: 1536,
	}))
	require.NoError(t, store.SetPin(ctx, &types.NamespacePin{
		Namespace: "agents", ProviderID: "local/hash-v1", Dimension: 256,
	}))

	pin, err = store.GetPin(ctx, "agents")
	require.NoError(t, err)
	require.NotNil(t, pin)
	assert.Equal(t, "openai/text-embedding-3-small", pin.ProviderID)
	assert.Equal(t, 1536, pin.Dimension)

	mark, err := store.GetReflectionMark(ctx, "agents")
	require.NoError(t, err)
	assert.True(t, mark.IsZero())

	first := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetReflectionMark(ctx, "agents", first))
	require.NoError(t, store.SetReflectionMark(ctx, "agents", first.Add(6*time.Hour)))

	mark, err = store.GetReflectionMark(ctx, "agents")
	require.NoError(t, err)
	assert.True(t, mark.Equal(first.Add(6*time.Hour)))

	require.NoError(t, store.Ping(ctx))
}
