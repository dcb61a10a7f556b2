package collector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/indexer"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/scanner"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// Source produces one contribution batch per run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*SourceResult, error)
}

// SourceResult is a source's contributions in merge order plus any ranges or pages it gave up on.
type SourceResult struct {
	Batch *types.ContributionBatch
	Gaps  []types.Gap
}

// EventSource adapts a chain log scanner.
type EventSource struct {
	name    string
	scanner *scanner.Scanner
}

func NewEventSource(name string, s *scanner.Scanner) *EventSource {
	return &EventSource{name: name, scanner: s}
}

func (s *EventSource) Name() string { return s.name }

func (s *EventSource) Fetch(ctx context.Context) (*SourceResult, error) {
	res, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &SourceResult{Batch: res.Contributions(), Gaps: res.Gaps}, nil
}

// GraphSource adapts a graph indexer client.
type GraphSource struct {
	name   string
	client *indexer.Client
}

func NewGraphSource(name string, c *indexer.Client) *GraphSource {
	return &GraphSource{name: name, client: c}
}

func (s *GraphSource) Name() string { return s.name }

func (s *GraphSource) Fetch(ctx context.Context) (*SourceResult, error) {
	res, err := s.client.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return &SourceResult{Batch: res.Contributions(), Gaps: res.Gaps}, nil
}

// DialFunc opens a log fetcher for an RPC endpoint.
type DialFunc func(ctx context.Context, rpcUrl string) (scanner.LogFetcher, error)

// DialEthClient is the default DialFunc.
func DialEthClient(ctx context.Context, rpcUrl string) (scanner.LogFetcher, error) {
	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial rpc endpoint %s", rpcUrl)
	}
	return client, nil
}

// BuildSources turns the configured sources into Sources, in configuration order. Event sources
// on the same chain share one RPC connection. Requests of every source together stay within
// cfg.Concurrency in flight, and each upstream endpoint is paced at cfg.RequestsPerSecond.
// The returned func closes every connection.
func BuildSources(
	ctx context.Context,
	cfg *config.SnapshotConfig,
	policy *retry.Policy,
	dial DialFunc,
	logger *zap.Logger,
) ([]Source, func(), error) {
	if dial == nil {
		dial = DialEthClient
	}

	limits := newRequestLimits(cfg.Concurrency, cfg.RequestsPerSecond)
	fetchers := make(map[config.ChainName]scanner.LogFetcher)
	closeAll := func() {
		for _, f := range fetchers {
			if c, ok := f.(interface{ Close() }); ok {
				c.Close()
			}
		}
	}

	sources := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch sc.Kind {
		case config.SourceKindEvents:
			fetcher, ok := fetchers[sc.Chain]
			if !ok {
				rpcUrl := cfg.RPCEndpoints[sc.Chain]
				if rpcUrl == "" {
					closeAll()
					return nil, nil, fmt.Errorf("no rpc endpoint configured for chain %s", sc.Chain)
				}
				f, err := dial(ctx, rpcUrl)
				if err != nil {
					closeAll()
					return nil, nil, err
				}
				fetcher = &gatedFetcher{fetcher: f, inFlight: limits.inFlight}
				fetchers[sc.Chain] = fetcher
			}

			s, err := scanner.NewScanner(fetcher, &scanner.ScannerConfig{
				Source:      sc.Name,
				Chain:       string(sc.Chain),
				Contract:    common.HexToAddress(sc.Contract),
				Event:       sc.Event,
				FromBlock:   sc.FromBlock,
				ToBlock:     sc.ToBlock,
				ChunkSize:   sc.ChunkSize,
				Concurrency: cfg.Concurrency,
			}, policy, limits.limiter(cfg.RPCEndpoints[sc.Chain]), logger)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			sources = append(sources, NewEventSource(sc.Name, s))

		case config.SourceKindGraph:
			c, err := indexer.NewClient(&indexer.ClientConfig{
				Source:       sc.Name,
				Endpoint:     sc.Endpoint,
				Query:        sc.Query,
				ResultField:  sc.ResultField,
				AccountField: sc.AccountField,
				BalanceField: sc.BalanceField,
				PageSize:     sc.PageSize,
				MaxPages:     sc.MaxPages,
			}, policy, limits.limiter(sc.Endpoint), logger)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			c.SetHttpClient(&http.Client{
				Timeout:   indexer.DefaultRequestTimeout,
				Transport: &gatedTransport{base: http.DefaultTransport, inFlight: limits.inFlight},
			})
			sources = append(sources, NewGraphSource(sc.Name, c))

		default:
			closeAll()
			return nil, nil, fmt.Errorf("source %s has unsupported kind %q", sc.Name, sc.Kind)
		}
	}
	return sources, closeAll, nil
}

// PolicyFromConfig builds the run's single retry policy.
func PolicyFromConfig(rc config.RetryConfig, logger *zap.Logger) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		Multiplier:     rc.Multiplier,
		Jitter:         rc.Jitter,
		Logger:         logger,
	}
}
