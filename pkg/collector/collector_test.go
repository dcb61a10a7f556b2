package collector

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/scanner"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/testutil"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

const (
	alice = testutil.Alice
	bob   = testutil.Bob
	carol = testutil.Carol
)

type staticSource struct {
	name  string
	delay time.Duration
	res   *SourceResult
	err   error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(ctx context.Context) (*SourceResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.res, s.err
}

func batch(source string, cs ...*types.Contribution) *SourceResult {
	return &SourceResult{Batch: types.NewContributionBatch(source, cs...)}
}

func TestCollect_MergesInSourceOrder(t *testing.T) {
	// the first source finishes last; merge order must still follow the source list
	sources := []Source{
		&staticSource{name: "mints", delay: 30 * time.Millisecond, res: batch("mints",
			testutil.Add("mints", alice, 100),
			testutil.Add("mints", bob, 50),
		)},
		&staticSource{name: "graph", delay: time.Millisecond, res: batch("graph",
			testutil.Set("graph", alice, 7),
			testutil.Set("graph", carol, 0),
		)},
	}

	c, err := NewCollector(sources, 4, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Ledger.Len())
	assert.Equal(t, big.NewInt(107), res.Ledger.Balance(alice))
	assert.Equal(t, big.NewInt(50), res.Ledger.Balance(bob))
	assert.Equal(t, 0, res.Ledger.Balance(carol).Sign())
	assert.NotNil(t, res.Ledger.Get(carol))
	assert.Equal(t, 4, res.Merged)
	assert.Zero(t, res.Rejected)
	require.Len(t, res.Summaries, 2)
	assert.Equal(t, "mints", res.Summaries[0].Name)
	assert.Equal(t, "graph", res.Summaries[1].Name)
}

func TestCollect_RejectsOverdrawWithoutPoisoningBatch(t *testing.T) {
	sources := []Source{
		&staticSource{name: "transfers", res: batch("transfers",
			testutil.Add("transfers", alice, 10),
			testutil.Add("transfers", alice, -25), // overdraw, rejected
			testutil.Add("transfers", bob, 5),
			testutil.Add("transfers", "not-an-address", 1),
			testutil.Add("transfers", alice, -4),
		)},
	}

	c, err := NewCollector(sources, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 3, res.Merged)
	assert.Equal(t, big.NewInt(6), res.Ledger.Balance(alice))
	assert.Equal(t, big.NewInt(5), res.Ledger.Balance(bob))
	assert.Equal(t, 2, res.Summaries[0].Rejected)
}

func TestCollect_OverdrawnTransferLeavesSupplyUnchanged(t *testing.T) {
	transfer := func(from, to string, amount int64) []*types.Contribution {
		ev := &types.TransferEvent{From: common.HexToAddress(from), To: common.HexToAddress(to), Amount: big.NewInt(amount)}
		return ev.Contributions("transfers")
	}

	b := &types.ContributionBatch{Source: "transfers"}
	b.Add(transfer(bob, alice, 50)...)
	b.Add(transfer(types.ZeroAddress, bob, 30)...)
	b.Add(transfer(bob, carol, 40)...)
	b.Add(transfer(bob, carol, 20)...)

	c, err := NewCollector([]Source{&staticSource{name: "transfers", res: &SourceResult{Batch: b}}}, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 7, res.Summaries[0].Contributions)
	assert.Equal(t, big.NewInt(30), res.Ledger.TotalSupply())
	assert.Nil(t, res.Ledger.Get(alice))
	assert.Equal(t, big.NewInt(10), res.Ledger.Balance(bob))
	assert.Equal(t, big.NewInt(20), res.Ledger.Balance(carol))
}

func TestCollect_FailedSourceBecomesGap(t *testing.T) {
	sources := []Source{
		&staticSource{name: "mints", res: batch("mints", testutil.Add("mints", alice, 100))},
		&staticSource{name: "broken", err: &retry.NetworkFetchError{Operation: "eth_blockNumber", Attempts: 5, Err: errors.New("timeout")}},
		&staticSource{name: "graph", res: &SourceResult{
			Batch: types.NewContributionBatch("graph", testutil.Set("graph", bob, 9)),
			Gaps:  []types.Gap{{Source: "graph", Kind: types.GapKindPage, Skip: 1000, First: 1000, Attempts: 5, Error: "504"}},
		}},
	}

	c, err := NewCollector(sources, 3, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Gaps, 2)
	assert.Equal(t, "broken", res.Gaps[0].Source)
	assert.Equal(t, types.GapKindSource, res.Gaps[0].Kind)
	assert.Equal(t, 5, res.Gaps[0].Attempts)
	assert.Equal(t, types.GapKindPage, res.Gaps[1].Kind)
	assert.True(t, res.Summaries[1].Failed)

	assert.Equal(t, big.NewInt(100), res.Ledger.Balance(alice))
	assert.Equal(t, big.NewInt(9), res.Ledger.Balance(bob))
}

func TestCollect_Cancelled(t *testing.T) {
	sources := []Source{&staticSource{name: "slow", delay: time.Hour}}
	c, err := NewCollector(sources, 1, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Collect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewCollectorValidation(t *testing.T) {
	l := zaptest.NewLogger(t)
	_, err := NewCollector([]Source{&staticSource{name: "a"}, &staticSource{name: "a"}}, 1, l)
	require.Error(t, err)
	_, err = NewCollector([]Source{nil}, 1, l)
	require.Error(t, err)
	_, err = NewCollector(nil, 1, nil)
	require.Error(t, err)
}

func TestBuildSources_EndToEnd(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	staking := common.HexToAddress("0x2222222222222222222222222222222222222222")

	mint, err := scanner.NewDecoder(types.EventKindMint, "mainnet")
	require.NoError(t, err)
	transfer, err := scanner.NewDecoder(types.EventKindTransfer, "mainnet")
	require.NoError(t, err)
	staked, err := scanner.NewDecoder(types.EventKindStaked, "mainnet")
	require.NoError(t, err)

	mustLog := func(d *scanner.Decoder, contract common.Address, block uint64, idx uint, addrs []string, amount int64) gethtypes.Log {
		var indexed []common.Address
		for _, a := range addrs {
			indexed = append(indexed, common.HexToAddress(a))
		}
		l, err := d.EncodeLog(contract, block, idx, indexed, big.NewInt(amount))
		require.NoError(t, err)
		return l
	}

	fetcher := testutil.NewMockLogFetcher(99,
		mustLog(transfer, token, 10, 0, []string{types.ZeroAddress, alice}, 1000),
		mustLog(transfer, token, 20, 0, []string{alice, bob}, 300),
		mustLog(mint, token, 30, 1, []string{carol}, 5),
		mustLog(mint, token, 55, 0, []string{carol}, 5000), // lost in the gap
		mustLog(staked, staking, 80, 0, []string{bob}, 42),
	)
	fetcher.FailFrom(50)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"holders":[{"id":"` + carol + `","balance":"77"}]}}`))
	}))
	defer srv.Close()

	cfg := &config.SnapshotConfig{
		RPCEndpoints: map[config.ChainName]string{config.ChainName_EthereumMainnet: "http://rpc.invalid"},
		Sources: []config.SourceConfig{
			{Name: "mints", Kind: config.SourceKindEvents, Chain: config.ChainName_EthereumMainnet, Contract: token.Hex(), Event: types.EventKindMint, ChunkSize: 25},
			{Name: "transfers", Kind: config.SourceKindEvents, Chain: config.ChainName_EthereumMainnet, Contract: token.Hex(), Event: types.EventKindTransfer, ChunkSize: 25},
			{Name: "stakes", Kind: config.SourceKindEvents, Chain: config.ChainName_EthereumMainnet, Contract: staking.Hex(), Event: types.EventKindStaked, ChunkSize: 25},
			{Name: "graph", Kind: config.SourceKindGraph, Endpoint: srv.URL, Query: "{ holders { id balance } }", ResultField: "holders"},
		},
		Concurrency: 2,
	}
	cfg.ApplyDefaults()

	dials := 0
	dial := func(ctx context.Context, rpcUrl string) (scanner.LogFetcher, error) {
		dials++
		return fetcher, nil
	}
	policy := &retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}

	sources, closeAll, err := BuildSources(context.Background(), cfg, policy, dial, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, dials)
	require.Len(t, sources, 4)

	c, err := NewCollector(sources, cfg.Concurrency, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	closeAll()
	assert.True(t, fetcher.Closed())

	// every event source loses blocks 50-74
	require.Len(t, res.Gaps, 3)
	for _, g := range res.Gaps {
		assert.Equal(t, uint64(50), g.FromBlock)
		assert.Equal(t, uint64(74), g.ToBlock)
		assert.Equal(t, 2, g.Attempts)
	}

	assert.Equal(t, big.NewInt(700), res.Ledger.Balance(alice))
	assert.Equal(t, big.NewInt(342), res.Ledger.Balance(bob))
	assert.Equal(t, big.NewInt(82), res.Ledger.Balance(carol))
	assert.Zero(t, res.Rejected)

	entry := res.Ledger.Get(carol)
	require.NotNil(t, entry)
	assert.Equal(t, []string{"graph", "mints"}, entry.Sources())
	assert.Equal(t, []string{"transfers"}, res.Ledger.Get(alice).Sources())
}

func TestBuildSources_MissingEndpoint(t *testing.T) {
	cfg := &config.SnapshotConfig{
		Sources: []config.SourceConfig{
			{Name: "mints", Kind: config.SourceKindEvents, Chain: config.ChainName_Base, Contract: alice, Event: types.EventKindMint, ChunkSize: 10},
		},
	}
	_, _, err := BuildSources(context.Background(), cfg, nil, func(ctx context.Context, rpcUrl string) (scanner.LogFetcher, error) {
		t.Fatal("dial should not be called")
		return nil, nil
	}, zaptest.NewLogger(t))
	require.Error(t, err)
}
