package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/collector"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/export"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/logger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/merkle"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence/badger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence/memory"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence/redis"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/snapshot"
)

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// loadConfig reads the config file when one is given and applies flag overrides on top.
func loadConfig(c *cli.Context) (*config.SnapshotConfig, error) {
	cfg := &config.SnapshotConfig{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("storage-type") {
		cfg.Storage.Type = config.StorageType(c.String("storage-type"))
	}
	if c.IsSet("data-path") {
		cfg.Storage.DataPath = c.String("data-path")
	}
	if c.IsSet("redis-address") {
		cfg.Storage.Redis.Address = c.String("redis-address")
	}
	if c.IsSet("redis-password") {
		cfg.Storage.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.Bool("verbose") {
		cfg.Debug = true
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func openStore(cfg config.StorageConfig, l *zap.Logger) (persistence.ISnapshotPersistence, error) {
	switch cfg.Type {
	case config.StorageTypeMemory:
		return memory.NewMemoryPersistence(l), nil
	case config.StorageTypeBadger:
		if cfg.DataPath == "" {
			return nil, fmt.Errorf("badger storage requires a data path")
		}
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case config.StorageTypeRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// env bundles what every storage-backed command needs.
type env struct {
	cfg     *config.SnapshotConfig
	logger  *zap.Logger
	store   persistence.ISnapshotPersistence
	builder *snapshot.Builder
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Sugar().Warnw("Failed to close storage", "error", err)
	}
	_ = e.logger.Sync()
}

func newEnv(c *cli.Context, col snapshot.Collector) (*env, error) {
	l, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	store, err := openStore(cfg.Storage, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	b, err := snapshot.NewBuilder(cfg, col, store, l)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: l, store: store, builder: b}, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func writeOutputs(l *zap.Logger, dir string, commitment *snapshot.Commitment) error {
	paths, err := export.WriteAll(dir, commitment)
	if err != nil {
		return err
	}
	l.Sugar().Infow("Wrote snapshot files", "run_id", commitment.RunID, "files", paths)
	return nil
}

func logCommitment(l *zap.Logger, msg string, commitment *snapshot.Commitment) {
	l.Sugar().Infow(msg,
		"run_id", commitment.RunID,
		"parent_run_id", commitment.ParentRunID,
		"merkle_root", commitment.RootHex(),
		"accounts", len(commitment.Entries),
		"leaves", commitment.LeafCount(),
		"gaps", len(commitment.Gaps),
		"rejected", commitment.Rejected,
	)
}

func runBuild(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	l.Sugar().Infow("Building snapshot", "sources", cfg.SourceNames(), "storage", cfg.Storage.Type)

	policy := collector.PolicyFromConfig(cfg.Retry, l)
	sources, closeSources, err := collector.BuildSources(ctx, cfg, policy, nil, l)
	if err != nil {
		return fmt.Errorf("failed to set up sources: %w", err)
	}
	defer closeSources()

	col, err := collector.NewCollector(sources, cfg.Concurrency, l)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Storage, l)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close storage", "error", err)
		}
	}()

	b, err := snapshot.NewBuilder(cfg, col, store, l)
	if err != nil {
		return err
	}
	commitment, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	logCommitment(l, "Snapshot built", commitment)

	return writeOutputs(l, c.String("out-dir"), commitment)
}

func runProof(c *cli.Context) error {
	var commitment *snapshot.Commitment
	if path := c.String("ledger"); path != "" {
		s, err := export.ReadLedgerSnapshot(path)
		if err != nil {
			return err
		}
		if commitment, err = s.Commitment(); err != nil {
			return err
		}
	} else {
		e, err := newEnv(c, nil)
		if err != nil {
			return err
		}
		defer e.close()
		if commitment, err = e.builder.Load(c.String("run-id")); err != nil {
			return err
		}
	}

	result, err := commitment.Proof(c.String("account"))
	if err != nil {
		return err
	}

	if path := c.String("output"); path != "" {
		return export.WriteProofFile(path, result)
	}
	return export.WriteProof(os.Stdout, result)
}

func runVerify(c *cli.Context) error {
	hasher, err := merkle.NewHasher(c.String("hash-function"))
	if err != nil {
		return err
	}
	p, err := export.ReadProof(c.String("proof"))
	if err != nil {
		return err
	}
	if err := export.VerifyProof(p, hasher, c.String("root")); err != nil {
		return fmt.Errorf("proof is invalid: %w", err)
	}
	fmt.Printf("proof is valid: %s holds %s\n", p.LeafData.Address, p.LeafData.Amount)
	return nil
}

func runRecover(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	deltas, err := export.ReadDeltas(c.String("deltas"))
	if err != nil {
		return err
	}

	e, err := newEnv(c, nil)
	if err != nil {
		return err
	}
	defer e.close()

	commitment, results, err := e.builder.Recover(ctx, c.String("run-id"), deltas)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	for _, r := range results {
		switch {
		case errors.Is(r.Err, ledger.ErrDeltaAlreadyApplied):
			e.logger.Sugar().Infow("Delta already applied", "delta_id", r.ID)
		case r.Err != nil:
			e.logger.Sugar().Warnw("Delta not applied", "delta_id", r.ID, "error", r.Err)
		}
	}
	logCommitment(e.logger, "Recovered snapshot", commitment)

	return writeOutputs(e.logger, c.String("out-dir"), commitment)
}

func runExport(c *cli.Context) error {
	e, err := newEnv(c, nil)
	if err != nil {
		return err
	}
	defer e.close()

	commitment, err := e.builder.Load(c.String("run-id"))
	if err != nil {
		return err
	}
	return writeOutputs(e.logger, c.String("out-dir"), commitment)
}

func runInspect(c *cli.Context) error {
	e, err := newEnv(c, nil)
	if err != nil {
		return err
	}
	defer e.close()

	records, err := e.store.ListSnapshots()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no stored runs")
		return nil
	}
	for _, r := range records {
		parent := r.ParentRunID
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("%s\t%s\tparent=%s\troot=%s\taccounts=%d\tgaps=%d\n",
			r.RunID, r.CreatedAt.Format(time.RFC3339), parent, r.MerkleRoot, len(r.Entries), len(r.Gaps))
	}
	return nil
}
