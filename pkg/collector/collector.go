package collector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// SourceSummary reports what one source contributed to a run. Merged and Rejected count
// source records; a transfer is one record even though it touches two accounts.
type SourceSummary struct {
	Name          string
	Contributions int
	Merged        int
	Rejected      int
	Gaps          int
	Failed        bool
}

// Result is the merged ledger of a run plus everything that did not make it in.
type Result struct {
	Ledger    *ledger.Ledger
	Gaps      []types.Gap
	Merged    int
	Rejected  int
	Summaries []SourceSummary
}

// Collector fetches every source concurrently, then merges the batches into one ledger from
// a single goroutine, in source order. Merging never starts before every fetch has finished.
type Collector struct {
	sources     []Source
	concurrency int
	logger      *zap.Logger
}

func NewCollector(sources []Source, concurrency int, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("source cannot be nil")
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("duplicate source name %q", s.Name())
		}
		seen[s.Name()] = true
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{sources: sources, concurrency: concurrency, logger: logger}, nil
}

// Collect runs every source and merges the results. A source that fails outright is recorded
// as a gap; only context cancellation fails the collection.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	results := make([]*SourceResult, len(c.sources))
	fetchErrs := make([]error, len(c.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, s := range c.sources {
		g.Go(func() error {
			res, err := s.Fetch(gctx)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.Sugar().Errorw("Source failed, continuing without it",
					"source", s.Name(),
					"error", err,
				)
				fetchErrs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collection aborted: %w", err)
	}

	return c.merge(results, fetchErrs), nil
}

func (c *Collector) merge(results []*SourceResult, fetchErrs []error) *Result {
	out := &Result{Ledger: ledger.NewLedger()}

	for i, s := range c.sources {
		summary := SourceSummary{Name: s.Name()}

		if fetchErrs[i] != nil {
			summary.Failed = true
			summary.Gaps = 1
			out.Gaps = append(out.Gaps, types.Gap{
				Source:   s.Name(),
				Kind:     types.GapKindSource,
				Attempts: retry.Attempts(fetchErrs[i]),
				Error:    fetchErrs[i].Error(),
			})
			out.Summaries = append(out.Summaries, summary)
			continue
		}

		res := results[i]
		summary.Gaps = len(res.Gaps)
		out.Gaps = append(out.Gaps, res.Gaps...)

		if res.Batch != nil {
			for _, group := range res.Batch.Groups {
				summary.Contributions += len(group)
				if err := out.Ledger.MergeAll(group); err != nil {
					var invalid *ledger.InvalidContributionError
					if errors.As(err, &invalid) {
						c.logger.Sugar().Warnw("Rejected source record",
							"source", invalid.Source,
							"contributions", len(group),
							"account", invalid.Account,
							"amount", invalid.Amount,
							"reason", invalid.Reason,
						)
					} else {
						c.logger.Sugar().Warnw("Rejected source record", "source", s.Name(), "error", err)
					}
					summary.Rejected++
					continue
				}
				summary.Merged++
			}
		}

		out.Merged += summary.Merged
		out.Rejected += summary.Rejected
		out.Summaries = append(out.Summaries, summary)

		c.logger.Sugar().Infow("Merged source",
			"source", s.Name(),
			"contributions", summary.Contributions,
			"merged", summary.Merged,
			"rejected", summary.Rejected,
			"gaps", summary.Gaps,
		)
	}

	c.logger.Sugar().Infow("Collection complete",
		"accounts", out.Ledger.Len(),
		"merged", out.Merged,
		"rejected", out.Rejected,
		"gaps", len(out.Gaps),
	)
	return out
}
