package scanner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/retry"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/testutil"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

var (
	testContract = common.HexToAddress("0x42583067658071247ec8CE0A516A58f682002d07")
	holderA      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	holderB      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testPolicy(t *testing.T) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		Logger:         zaptest.NewLogger(t),
	}
}

func mintLog(t *testing.T, block uint64, index uint, to common.Address, amount int64) gethtypes.Log {
	d, err := NewDecoder(types.EventKindMint, "mainnet")
	require.NoError(t, err)
	l, err := d.EncodeLog(testContract, block, index, []common.Address{to}, big.NewInt(amount))
	require.NoError(t, err)
	return l
}

func TestSplitRange(t *testing.T) {
	testCases := []struct {
		name           string
		from, to, size uint64
		expected       []BlockRange
	}{
		{"Exact multiple", 0, 9, 5, []BlockRange{{0, 4}, {5, 9}}},
		{"Remainder", 10, 22, 5, []BlockRange{{10, 14}, {15, 19}, {20, 22}}},
		{"Single block", 7, 7, 100, []BlockRange{{7, 7}}},
		{"Inverted", 10, 5, 5, nil},
		{"Zero size", 0, 10, 0, nil},
		{"Near max uint64", ^uint64(0) - 2, ^uint64(0), 2, []BlockRange{{^uint64(0) - 2, ^uint64(0) - 1}, {^uint64(0), ^uint64(0)}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SplitRange(tc.from, tc.to, tc.size))
		})
	}
}

func TestScan_DecodesAndOrdersEvents(t *testing.T) {
	logs := []gethtypes.Log{
		mintLog(t, 35, 1, holderB, 5),
		mintLog(t, 3, 0, holderA, 100),
		mintLog(t, 35, 0, holderA, 7),
		mintLog(t, 12, 4, holderB, 20),
	}
	fetcher := testutil.NewMockLogFetcher(40, logs...)

	s, err := NewScanner(fetcher, &ScannerConfig{
		Source:      "mint-events-mainnet",
		Chain:       "mainnet",
		Contract:    testContract,
		Event:       types.EventKindMint,
		FromBlock:   0,
		ChunkSize:   10,
		Concurrency: 3,
	}, testPolicy(t), rate.NewLimiter(rate.Inf, 3), zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, uint64(40), res.ToBlock)
	assert.Empty(t, res.Gaps)
	require.Len(t, res.Events, 4)

	var blocks []uint64
	var indexes []uint
	for _, ev := range res.Events {
		blocks = append(blocks, ev.Meta().BlockNumber)
		indexes = append(indexes, ev.Meta().LogIndex)
	}
	assert.Equal(t, []uint64{3, 12, 35, 35}, blocks)
	assert.Equal(t, []uint{0, 4, 0, 1}, indexes)
	assert.LessOrEqual(t, fetcher.MaxInFlight(), 3)

	contribs := res.Contributions().Contributions()
	require.Len(t, contribs, 4)
	assert.Equal(t, types.CanonicalAddress(holderA), contribs[0].Account)
	assert.Equal(t, big.NewInt(100), contribs[0].Amount)
	assert.Equal(t, "mint-events-mainnet", contribs[0].Source)
}

func TestScan_RecordsGapAfterRetries(t *testing.T) {
	logs := []gethtypes.Log{
		mintLog(t, 5, 0, holderA, 10),
		mintLog(t, 15, 0, holderA, 20), // in the failing range
		mintLog(t, 25, 0, holderB, 30),
	}
	fetcher := testutil.NewMockLogFetcher(29, logs...)
	fetcher.FailFrom(10)

	s, err := NewScanner(fetcher, &ScannerConfig{
		Source:      "mints",
		Chain:       "mainnet",
		Contract:    testContract,
		Event:       types.EventKindMint,
		ToBlock:     29,
		ChunkSize:   10,
		Concurrency: 2,
	}, testPolicy(t), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Gaps, 1)
	gap := res.Gaps[0]
	assert.Equal(t, "mints", gap.Source)
	assert.Equal(t, types.GapKindBlockRange, gap.Kind)
	assert.Equal(t, uint64(10), gap.FromBlock)
	assert.Equal(t, uint64(19), gap.ToBlock)
	assert.Equal(t, 3, gap.Attempts)
	assert.Contains(t, gap.Error, "503")
	assert.Equal(t, 3, fetcher.Calls(10))

	require.Len(t, res.Events, 2)
	assert.Equal(t, uint64(5), res.Events[0].Meta().BlockNumber)
	assert.Equal(t, uint64(25), res.Events[1].Meta().BlockNumber)
}

func TestScan_SkipsUndecodableLogs(t *testing.T) {
	good := mintLog(t, 1, 0, holderA, 10)
	truncated := mintLog(t, 2, 0, holderA, 10)
	truncated.Data = truncated.Data[:5]
	zeroRecipient := mintLog(t, 3, 0, common.Address{}, 10)
	removed := mintLog(t, 4, 0, holderB, 10)
	removed.Removed = true

	fetcher := testutil.NewMockLogFetcher(9, good, truncated, zeroRecipient, removed)
	s, err := NewScanner(fetcher, &ScannerConfig{
		Source:    "mints",
		Contract:  testContract,
		Event:     types.EventKindMint,
		ChunkSize: 100,
	}, testPolicy(t), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, 2, res.Skipped)
}

func TestScan_Cancelled(t *testing.T) {
	fetcher := testutil.NewMockLogFetcher(100)
	fetcher.FailFrom(0)

	policy := testPolicy(t)
	policy.InitialBackoff = time.Hour
	policy.MaxBackoff = time.Hour

	s, err := NewScanner(fetcher, &ScannerConfig{
		Source:    "mints",
		Contract:  testContract,
		Event:     types.EventKindMint,
		ToBlock:   100,
		ChunkSize: 1000,
	}, policy, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Scan(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewScannerValidation(t *testing.T) {
	l := zaptest.NewLogger(t)
	_, err := NewScanner(nil, &ScannerConfig{ChunkSize: 1, Event: types.EventKindMint}, nil, nil, l)
	require.Error(t, err)
	_, err = NewScanner(testutil.NewMockLogFetcher(0), nil, nil, nil, l)
	require.Error(t, err)
	_, err = NewScanner(testutil.NewMockLogFetcher(0), &ScannerConfig{Event: types.EventKindMint}, nil, nil, l)
	require.Error(t, err)
	_, err = NewScanner(testutil.NewMockLogFetcher(0), &ScannerConfig{ChunkSize: 1, Event: "Approval"}, nil, nil, l)
	require.Error(t, err)
}

func TestDecoder_Transfer(t *testing.T) {
	d, err := NewDecoder(types.EventKindTransfer, "arbitrum")
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"), d.Topic())

	log, err := d.EncodeLog(testContract, 9, 2, []common.Address{holderA, holderB}, big.NewInt(77))
	require.NoError(t, err)

	ev, err := d.Decode(log)
	require.NoError(t, err)
	transfer, ok := ev.(*types.TransferEvent)
	require.True(t, ok)
	assert.Equal(t, holderA, transfer.From)
	assert.Equal(t, holderB, transfer.To)
	assert.Equal(t, big.NewInt(77), transfer.Amount)
	assert.Equal(t, "arbitrum", transfer.Chain)
	assert.Equal(t, uint64(9), transfer.BlockNumber)

	t.Run("Wrong topic count", func(t *testing.T) {
		bad := log
		bad.Topics = bad.Topics[:2]
		_, err := d.Decode(bad)
		require.Error(t, err)
	})

	t.Run("Wrong event", func(t *testing.T) {
		stake, err := NewDecoder(types.EventKindStaked, "arbitrum")
		require.NoError(t, err)
		_, err = stake.Decode(log)
		require.Error(t, err)
	})
}

func TestDecoder_Staked(t *testing.T) {
	d, err := NewDecoder(types.EventKindStaked, "base")
	require.NoError(t, err)

	log, err := d.EncodeLog(testContract, 1, 0, []common.Address{holderB}, big.NewInt(12))
	require.NoError(t, err)
	ev, err := d.Decode(log)
	require.NoError(t, err)
	staked := ev.(*types.StakedEvent)
	assert.Equal(t, holderB, staked.Account)
	assert.Equal(t, big.NewInt(12), staked.Amount)
}
