package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// LogFetcher is the slice of an Ethereum client the scanner needs. *ethclient.Client satisfies it.
type LogFetcher interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ScannerConfig describes one event source scan.
type ScannerConfig struct {
	Source    string
	Chain     string
	Contract  common.Address
	Event     types.EventKind
	FromBlock uint64
	// ToBlock 0 scans up to the latest block
	ToBlock     uint64
	ChunkSize   uint64
	Concurrency int
}

// BlockRange is an inclusive block interval queried in one eth_getLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

// ScanResult holds every decoded event in (block, log index) order, plus any ranges given up on.
type ScanResult struct {
	Source  string
	Events  []types.Event
	Gaps    []types.Gap
	Chunks  int
	Skipped int
	ToBlock uint64
}

// Scanner fetches and decodes one event kind from one contract over a block range.
type Scanner struct {
	fetcher LogFetcher
	config  *ScannerConfig
	decoder *Decoder
	policy  *retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewScanner creates a scanner. limiter may be nil to disable request pacing.
func NewScanner(
	fetcher LogFetcher,
	cfg *ScannerConfig,
	policy *retry.Policy,
	limiter *rate.Limiter,
	logger *zap.Logger,
) (*Scanner, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("log fetcher cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("scanner config cannot be nil")
	}
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	decoder, err := NewDecoder(cfg.Event, cfg.Chain)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = retry.DefaultPolicy(logger)
	}
	return &Scanner{
		fetcher: fetcher,
		config:  cfg,
		decoder: decoder,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// SplitRange splits [from, to] into consecutive ranges of at most size blocks.
func SplitRange(from, to, size uint64) []BlockRange {
	if size == 0 || to < from {
		return nil
	}
	ranges := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; start <= to; {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges
}

// Scan fetches every chunk with bounded concurrency. A chunk that still fails after the retry
// policy is exhausted becomes a gap; only cancellation or a failed latest-block lookup fail the scan.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	toBlock := s.config.ToBlock
	if toBlock == 0 {
		err := s.policy.Do(ctx, "eth_blockNumber", func(ctx context.Context) error {
			if err := s.wait(ctx); err != nil {
				return err
			}
			latest, err := s.fetcher.BlockNumber(ctx)
			if err != nil {
				return err
			}
			toBlock = latest
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get latest block for %s: %w", s.config.Source, err)
		}
	}

	ranges := SplitRange(s.config.FromBlock, toBlock, s.config.ChunkSize)
	s.logger.Sugar().Infow("Scanning event source",
		"source", s.config.Source,
		"chain", s.config.Chain,
		"contract", s.config.Contract.Hex(),
		"event", s.config.Event,
		"fromBlock", s.config.FromBlock,
		"toBlock", toBlock,
		"chunks", len(ranges),
	)

	chunkEvents := make([][]types.Event, len(ranges))
	chunkGaps := make([]*types.Gap, len(ranges))
	chunkSkipped := make([]int, len(ranges))

	concurrency := s.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, r := range ranges {
		g.Go(func() error {
			logs, err := s.fetchRange(gctx, r)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				gap := &types.Gap{
					Source:    s.config.Source,
					Kind:      types.GapKindBlockRange,
					FromBlock: r.From,
					ToBlock:   r.To,
					Attempts:  retry.Attempts(err),
					Error:     err.Error(),
				}
				s.logger.Sugar().Errorw("Giving up on block range, recording gap",
					"source", s.config.Source,
					"fromBlock", r.From,
					"toBlock", r.To,
					"error", err,
				)
				chunkGaps[i] = gap
				return nil
			}

			events := make([]types.Event, 0, len(logs))
			for _, log := range logs {
				if log.Removed {
					continue
				}
				ev, err := s.decoder.Decode(log)
				if err != nil {
					s.logger.Sugar().Warnw("Skipping undecodable log",
						"source", s.config.Source,
						"block", log.BlockNumber,
						"txHash", log.TxHash.Hex(),
						"error", err,
					)
					chunkSkipped[i]++
					continue
				}
				events = append(events, ev)
			}
			chunkEvents[i] = events
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan of %s aborted: %w", s.config.Source, err)
	}

	result := &ScanResult{Source: s.config.Source, Chunks: len(ranges), ToBlock: toBlock}
	for i := range ranges {
		result.Events = append(result.Events, chunkEvents[i]...)
		result.Skipped += chunkSkipped[i]
		if chunkGaps[i] != nil {
			result.Gaps = append(result.Gaps, *chunkGaps[i])
		}
	}
	sortEvents(result.Events)

	s.logger.Sugar().Infow("Finished scanning event source",
		"source", s.config.Source,
		"events", len(result.Events),
		"skipped", result.Skipped,
		"gaps", len(result.Gaps),
	)
	return result, nil
}

func (s *Scanner) fetchRange(ctx context.Context, r BlockRange) ([]gethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{s.config.Contract},
		Topics:    [][]common.Hash{{s.decoder.Topic()}},
	}

	var logs []gethtypes.Log
	op := fmt.Sprintf("eth_getLogs %s [%d,%d]", s.config.Source, r.From, r.To)
	err := s.policy.Do(ctx, op, func(ctx context.Context) error {
		if err := s.wait(ctx); err != nil {
			return err
		}
		res, err := s.fetcher.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = res
		return nil
	})
	return logs, err
}

func (s *Scanner) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func sortEvents(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Meta(), events[j].Meta()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
}

// Contributions turns the scan's events into a merge batch in event order, one group per event.
func (r *ScanResult) Contributions() *types.ContributionBatch {
	batch := &types.ContributionBatch{Source: r.Source, Groups: make([]types.ContributionGroup, 0, len(r.Events))}
	for _, ev := range r.Events {
		batch.Add(ev.Contributions(r.Source)...)
	}
	return batch
}
