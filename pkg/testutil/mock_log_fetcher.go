package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrMockUnavailable is returned for every range the mock is told to fail.
var ErrMockUnavailable = errors.New("503 upstream timeout")

// MockLogFetcher serves logs from memory the way an RPC node answers eth_getLogs.
// Ranges whose start block was passed to FailFrom always fail.
type MockLogFetcher struct {
	mu       sync.Mutex
	logs     []gethtypes.Log
	latest   uint64
	failFrom map[uint64]bool
	calls    map[uint64]int
	closed   bool

	// Latency is slept on every FilterLogs call
	Latency time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func NewMockLogFetcher(latest uint64, logs ...gethtypes.Log) *MockLogFetcher {
	return &MockLogFetcher{
		logs:     logs,
		latest:   latest,
		failFrom: make(map[uint64]bool),
		calls:    make(map[uint64]int),
		Latency:  time.Millisecond,
	}
}

// FailFrom makes every query starting at one of the given blocks fail.
func (m *MockLogFetcher) FailFrom(blocks ...uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		m.failFrom[b] = true
	}
}

func (m *MockLogFetcher) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxInFlight.Load()
		if n <= seen || m.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[from]++
	if m.failFrom[from] {
		return nil, ErrMockUnavailable
	}

	var out []gethtypes.Log
	for _, l := range m.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && l.Address != q.Addresses[0] {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && len(l.Topics) > 0 && l.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *MockLogFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	return m.latest, nil
}

func (m *MockLogFetcher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Calls returns how many queries started at block from.
func (m *MockLogFetcher) Calls(from uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[from]
}

// MaxInFlight is the highest number of concurrent FilterLogs calls observed.
func (m *MockLogFetcher) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

func (m *MockLogFetcher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
