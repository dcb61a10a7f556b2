package memory

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of ISnapshotPersistence.
// Intended for tests and one-shot runs that export to files.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Snapshot storage: runID -> SnapshotRecord
	snapshots map[string]*persistence.SnapshotRecord

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory persistence, snapshots will be lost on exit. Set storage.type to badger or redis to keep them")
	}

	return &MemoryPersistence{
		snapshots: make(map[string]*persistence.SnapshotRecord),
	}
}

// SaveSnapshot persists a snapshot record.
func (m *MemoryPersistence) SaveSnapshot(record *persistence.SnapshotRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil SnapshotRecord")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	clone, err := persistence.CloneSnapshotRecord(record)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.snapshots[record.RunID] = clone
	return nil
}

// LoadSnapshot retrieves a snapshot record by run ID.
func (m *MemoryPersistence) LoadSnapshot(runID string) (*persistence.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	record, exists := m.snapshots[runID]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return persistence.CloneSnapshotRecord(record)
}

// LoadLatestSnapshot returns the most recently created record.
func (m *MemoryPersistence) LoadLatestSnapshot() (*persistence.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var latest *persistence.SnapshotRecord
	for _, record := range m.snapshots {
		if latest == nil || latest.Before(record) {
			latest = record
		}
	}
	if latest == nil {
		return nil, nil
	}

	return persistence.CloneSnapshotRecord(latest)
}

// ListSnapshots returns all records in listing order.
func (m *MemoryPersistence) ListSnapshots() ([]*persistence.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*persistence.SnapshotRecord, 0, len(m.snapshots))
	for _, record := range m.snapshots {
		clone, err := persistence.CloneSnapshotRecord(record)
		if err != nil {
			return nil, err
		}
		result = append(result, clone)
	}
	persistence.SortRecords(result)

	return result, nil
}

// DeleteSnapshot removes a snapshot record.
func (m *MemoryPersistence) DeleteSnapshot(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.snapshots, runID)
	return nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
