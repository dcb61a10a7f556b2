package persistence

// ISnapshotPersistence stores snapshot records, the durable source of truth between runs.
// All implementations must be thread-safe.
//
// The interface supports:
// - Snapshot record management (save, load, list, delete)
// - Latest run lookup for recovery and export
// - Lifecycle management (close, health check)
type ISnapshotPersistence interface {
	// Snapshot Management

	// SaveSnapshot persists a snapshot record keyed by its RunID.
	// Saving a record with an existing RunID overwrites it.
	SaveSnapshot(record *SnapshotRecord) error

	// LoadSnapshot retrieves a snapshot record by run ID.
	// Returns nil if the run doesn't exist, error only on storage failure.
	LoadSnapshot(runID string) (*SnapshotRecord, error)

	// LoadLatestSnapshot returns the most recently created record.
	// Returns nil if nothing has been saved yet.
	LoadLatestSnapshot() (*SnapshotRecord, error)

	// ListSnapshots returns every record sorted by CreatedAt, then RunID (ascending).
	// Returns an empty slice if no records exist.
	ListSnapshots() ([]*SnapshotRecord, error)

	// DeleteSnapshot removes a record. Idempotent.
	DeleteSnapshot(runID string) error

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
