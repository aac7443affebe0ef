package recordstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/types"
)

func TestNewStoreFromConfig_SQLite(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Database.Driver = string(DriverSQLite)
	cfg.Database.Name = filepath.Join(t.TempDir(), "data", "mnemo_test.db")

	store, err := NewStoreFromConfig(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.IsType(t, &GormStore{}, store)

	// 父目录由工厂创建，落盘后可读回
	rec := testRecord("r1", "agents", types.LayerEpisodic, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, "agents", "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "text of r1", got.Text)
}

func TestNewStoreFromConfig_EmptyDriverDefaultsToSQLite(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = ""
	cfg.Database.Name = filepath.Join(t.TempDir(), "mnemo_test.db")

	store, err := NewStoreFromConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.IsType(t, &GormStore{}, store)
}

func TestNewStoreFromConfig_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := NewStoreFromConfig(ctx, nil, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("unsupported driver", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Database.Driver = "oracle"

		_, err := NewStoreFromConfig(ctx, cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported record store driver")
	})
}
