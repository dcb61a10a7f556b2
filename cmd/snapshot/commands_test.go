package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
)

func TestOpenStore(t *testing.T) {
	l := zaptest.NewLogger(t)

	t.Run("memory", func(t *testing.T) {
		store, err := openStore(config.StorageConfig{Type: config.StorageTypeMemory}, l)
		require.NoError(t, err)
		assert.NoError(t, store.HealthCheck())
		assert.NoError(t, store.Close())
	})

	t.Run("badger", func(t *testing.T) {
		store, err := openStore(config.StorageConfig{Type: config.StorageTypeBadger, DataPath: t.TempDir()}, l)
		require.NoError(t, err)
		assert.NoError(t, store.HealthCheck())
		assert.NoError(t, store.Close())
	})

	t.Run("badger without path", func(t *testing.T) {
		_, err := openStore(config.StorageConfig{Type: config.StorageTypeBadger}, l)
		assert.Error(t, err)
	})

	t.Run("redis without address", func(t *testing.T) {
		_, err := openStore(config.StorageConfig{Type: config.StorageTypeRedis}, l)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openStore(config.StorageConfig{Type: "s3"}, l)
		assert.Error(t, err)
	})
}
