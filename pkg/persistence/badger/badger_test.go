package badger

import (
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/logger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence/persistencetest"
)

var _ persistence.ISnapshotPersistence = (*BadgerPersistence)(nil)

func TestBadgerPersistence(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	persistencetest.Run(t, func(t *testing.T) persistence.ISnapshotPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	// First instance - save data
	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	record := persistencetest.NewRecord(time.Now().UTC())
	require.NoError(t, bp1.SaveSnapshot(record))
	require.NoError(t, bp1.Close())

	// Second instance - verify data persisted
	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadLatestSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.RunID, loaded.RunID)
	assert.Equal(t, record.MerkleRoot, loaded.MerkleRoot)
	assert.Equal(t, record.Entries, loaded.Entries)
}

func TestBadgerPersistence_SchemaMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	err = bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	_, err = NewBadgerPersistence(tmpDir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestBadgerPersistence_SkipsCorruptRecords(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.SaveSnapshot(persistencetest.NewRecord(time.Now().UTC())))
	err = bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(snapshotKey("corrupt"), []byte("{not json"))
	})
	require.NoError(t, err)

	list, err := bp.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = bp.LoadSnapshot("corrupt")
	require.Error(t, err)
}
