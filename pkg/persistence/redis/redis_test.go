package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/logger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence/persistencetest"
)

var _ persistence.ISnapshotPersistence = (*RedisPersistence)(nil)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not available. Each call gets its own key prefix
// on DB 15 so tests never see each other's runs.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15,
		KeyPrefix: "test:" + uuid.New().String() + ":",
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	t.Cleanup(func() { cleanupRedis(t, cfg) })
	return rp
}

// cleanupRedis deletes every key under the test's prefix
func cleanupRedis(t *testing.T, cfg *RedisConfig) {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		return
	}
	defer func() { _ = rp.Close() }()

	ctx := context.Background()
	keys, err := rp.client.Keys(ctx, cfg.KeyPrefix+"*").Result()
	if err == nil && len(keys) > 0 {
		rp.client.Del(ctx, keys...)
	}
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.ISnapshotPersistence {
		return requireRedis(t)
	})
}

func TestRedisPersistence_StaleIndexEntry(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	record := persistencetest.NewRecord(time.Now().UTC())
	require.NoError(t, rp.SaveSnapshot(record))

	// index points at a run whose body has gone
	ctx := context.Background()
	newer := persistencetest.NewRecord(time.Now().UTC().Add(time.Hour))
	require.NoError(t, rp.SaveSnapshot(newer))
	require.NoError(t, rp.client.Del(ctx, rp.snapshotKey(newer.RunID)).Err())

	latest, err := rp.LoadLatestSnapshot()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, record.RunID, latest.RunID)

	list, err := rp.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNewRedisPersistence_InvalidConfig(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := NewRedisPersistence(nil, testLogger)
	require.Error(t, err)

	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	require.Error(t, err)
}
