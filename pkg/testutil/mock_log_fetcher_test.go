package testutil

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockLogFetcher(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	topic := common.HexToHash("0x01")

	m := NewMockLogFetcher(50,
		gethtypes.Log{Address: contract, Topics: []common.Hash{topic}, BlockNumber: 5},
		gethtypes.Log{Address: contract, Topics: []common.Hash{topic}, BlockNumber: 15},
		gethtypes.Log{Address: other, Topics: []common.Hash{topic}, BlockNumber: 6},
		gethtypes.Log{Address: contract, Topics: []common.Hash{common.HexToHash("0x02")}, BlockNumber: 7},
	)
	m.FailFrom(20)

	query := func(from, to uint64) ethereum.FilterQuery {
		return ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{topic}},
		}
	}

	latest, err := m.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), latest)

	logs, err := m.FilterLogs(context.Background(), query(0, 9))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(5), logs[0].BlockNumber)

	_, err = m.FilterLogs(context.Background(), query(20, 29))
	assert.ErrorIs(t, err, ErrMockUnavailable)
	_, err = m.FilterLogs(context.Background(), query(20, 29))
	assert.ErrorIs(t, err, ErrMockUnavailable)
	assert.Equal(t, 2, m.Calls(20))
	assert.Equal(t, 1, m.Calls(0))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.FilterLogs(context.Background(), query(10, 19))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, m.MaxInFlight(), 1)
	assert.LessOrEqual(t, m.MaxInFlight(), 4)

	assert.False(t, m.Closed())
	m.Close()
	assert.True(t, m.Closed())
}
