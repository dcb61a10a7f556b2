package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/collector"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/merkle"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// Collector gathers one run's ledger. *collector.Collector satisfies it.
type Collector interface {
	Collect(ctx context.Context) (*collector.Result, error)
}

// Builder runs the collect, commit, persist pipeline.
type Builder struct {
	config    *config.SnapshotConfig
	collector Collector
	hasher    *merkle.Hasher
	store     persistence.ISnapshotPersistence
	logger    *zap.Logger

	now func() time.Time
}

// NewBuilder creates a builder. collector may be nil for builders that only recover or reload
// stored runs; store may be nil to skip persistence.
func NewBuilder(cfg *config.SnapshotConfig, c Collector, store persistence.ISnapshotPersistence, logger *zap.Logger) (*Builder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	hasher, err := merkle.NewHasher(cfg.HashFunction)
	if err != nil {
		return nil, err
	}
	return &Builder{
		config:    cfg,
		collector: c,
		hasher:    hasher,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Build collects every source into a fresh ledger, commits it, and persists the record.
func (b *Builder) Build(ctx context.Context) (*Commitment, error) {
	if b.collector == nil {
		return nil, fmt.Errorf("builder has no collector")
	}

	res, err := b.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	c, err := Commit(res.Ledger, b.hasher, b.config.IncludeZeroBalances, b.logger)
	if err != nil {
		return nil, err
	}
	c.RunID = uuid.New().String()
	c.CreatedAt = b.now().UTC()
	c.Gaps = res.Gaps
	c.Rejected = res.Rejected

	if err := b.save(c); err != nil {
		return nil, err
	}

	b.logger.Sugar().Infow("Snapshot built",
		"runId", c.RunID,
		"merkleRoot", c.RootHex(),
		"accounts", len(c.Entries),
		"leaves", c.LeafCount(),
		"gaps", len(c.Gaps),
		"rejected", c.Rejected,
	)
	for _, g := range c.Gaps {
		b.logger.Sugar().Warnw("Snapshot is missing data", "gap", g.String())
	}
	return c, nil
}

// Load rebuilds a stored run. An empty runID loads the latest run.
func (b *Builder) Load(runID string) (*Commitment, error) {
	record, err := b.loadRecord(runID)
	if err != nil {
		return nil, err
	}
	return FromRecord(record, b.logger)
}

// Recover applies recovery deltas to a stored run and stores the result as a new run whose
// parent is the original. Deltas already in the run's delta log are skipped, so replaying a
// delta file is harmless. An empty runID recovers the latest run.
func (b *Builder) Recover(ctx context.Context, runID string, deltas []*types.RecoveryDelta) (*Commitment, []ledger.DeltaResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	record, err := b.loadRecord(runID)
	if err != nil {
		return nil, nil, err
	}
	parent, err := FromRecord(record, b.logger)
	if err != nil {
		return nil, nil, err
	}

	hasher, err := merkle.NewHasher(record.HashFunction)
	if err != nil {
		return nil, nil, err
	}

	l := parent.Ledger
	results := l.ApplyRecoveryDelta(deltas)

	c, err := Commit(l, hasher, record.IncludeZeroBalances, b.logger)
	if err != nil {
		return nil, nil, err
	}
	c.RunID = uuid.New().String()
	c.ParentRunID = parent.RunID
	c.CreatedAt = b.now().UTC()
	c.Gaps = parent.Gaps
	for account := range parent.Recovered {
		c.Recovered[account] = true
	}

	applied := 0
	for i, res := range results {
		if res.Applied {
			applied++
			c.Recovered[types.MustNormalizeAddress(deltas[i].Account)] = true
			continue
		}
		b.logger.Sugar().Warnw("Recovery delta not applied", "id", res.ID, "error", res.Err)
	}

	if err := b.save(c); err != nil {
		return nil, nil, err
	}

	b.logger.Sugar().Infow("Recovery applied",
		"runId", c.RunID,
		"parentRunId", c.ParentRunID,
		"deltas", len(deltas),
		"applied", applied,
		"previousRoot", parent.RootHex(),
		"merkleRoot", c.RootHex(),
	)
	return c, results, nil
}

func (b *Builder) loadRecord(runID string) (*persistence.SnapshotRecord, error) {
	if b.store == nil {
		return nil, fmt.Errorf("builder has no snapshot store")
	}

	var (
		record *persistence.SnapshotRecord
		err    error
	)
	if runID == "" {
		record, err = b.store.LoadLatestSnapshot()
	} else {
		record, err = b.store.LoadSnapshot(runID)
	}
	if err != nil {
		return nil, err
	}
	if record == nil {
		if runID == "" {
			return nil, fmt.Errorf("no snapshots have been stored")
		}
		return nil, fmt.Errorf("snapshot run %s not found", runID)
	}
	return record, nil
}

func (b *Builder) save(c *Commitment) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SaveSnapshot(c.Record()); err != nil {
		return fmt.Errorf("failed to persist snapshot %s: %w", c.RunID, err)
	}
	return nil
}
