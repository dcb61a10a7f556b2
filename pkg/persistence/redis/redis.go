package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixSnapshot    = "snapshot:run:"
	keySchemaVersion     = "snapshot:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Sorted set of run IDs scored by creation time, for listing and latest lookup
	keySetSnapshots = "snapshot:runs:index"
)

// RedisPersistence stores snapshot records in Redis so several hosts can share them.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups),
	// e.g. "myapp:" gives keys like "myapp:snapshot:run:<id>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) snapshotKey(runID string) string {
	return r.prefixKey(keyPrefixSnapshot + runID)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveSnapshot persists a snapshot record and indexes it by creation time
func (r *RedisPersistence) SaveSnapshot(record *persistence.SnapshotRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SnapshotRecord")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	data, err := persistence.MarshalSnapshotRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal SnapshotRecord: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.snapshotKey(record.RunID), data, 0)
	pipe.ZAdd(ctx, r.prefixKey(keySetSnapshots), redis.Z{
		Score:  float64(record.CreatedAt.UnixMicro()),
		Member: record.RunID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save SnapshotRecord: %w", err)
	}

	return nil
}

// LoadSnapshot retrieves a snapshot record
func (r *RedisPersistence) LoadSnapshot(runID string) (*persistence.SnapshotRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	return r.load(context.Background(), runID)
}

func (r *RedisPersistence) load(ctx context.Context, runID string) (*persistence.SnapshotRecord, error) {
	data, err := r.client.Get(ctx, r.snapshotKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SnapshotRecord: %w", err)
	}

	record, err := persistence.UnmarshalSnapshotRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SnapshotRecord: %w", err)
	}

	return record, nil
}

// LoadLatestSnapshot returns the highest scored record in the index
func (r *RedisPersistence) LoadLatestSnapshot() (*persistence.SnapshotRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetSnapshots)

	for {
		runIDs, err := r.client.ZRevRange(ctx, indexKey, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot index: %w", err)
		}
		if len(runIDs) == 0 {
			return nil, nil
		}

		record, err := r.load(ctx, runIDs[0])
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}

		// Run was in index but doesn't exist - clean up index
		if err := r.client.ZRem(ctx, indexKey, runIDs[0]).Err(); err != nil {
			return nil, fmt.Errorf("failed to clean snapshot index: %w", err)
		}
	}
}

// ListSnapshots returns all snapshot records in listing order
func (r *RedisPersistence) ListSnapshots() ([]*persistence.SnapshotRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetSnapshots)

	runIDs, err := r.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot run ids: %w", err)
	}

	if len(runIDs) == 0 {
		return []*persistence.SnapshotRecord{}, nil
	}

	keys := make([]string, len(runIDs))
	for i, runID := range runIDs {
		keys[i] = r.snapshotKey(runID)
	}

	// Fetch all values using MGET
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SnapshotRecords: %w", err)
	}

	records := make([]*persistence.SnapshotRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			r.client.ZRem(ctx, indexKey, runIDs[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for SnapshotRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalSnapshotRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal SnapshotRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}

		records = append(records, record)
	}

	persistence.SortRecords(records)
	return records, nil
}

// DeleteSnapshot removes a snapshot record and its index entry
func (r *RedisPersistence) DeleteSnapshot(runID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.snapshotKey(runID))
	pipe.ZRem(ctx, r.prefixKey(keySetSnapshots), runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete SnapshotRecord: %w", err)
	}

	return nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
