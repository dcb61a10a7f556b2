// Package persistencetest holds the behaviour every ISnapshotPersistence backend must share.
package persistencetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// NewRecord returns a valid record with a fresh run ID.
func NewRecord(createdAt time.Time) *persistence.SnapshotRecord {
	return &persistence.SnapshotRecord{
		RunID:        uuid.New().String(),
		CreatedAt:    createdAt,
		MerkleRoot:   "0x" + fmt.Sprintf("%064x", createdAt.UnixNano()),
		HashFunction: "keccak256",
		Entries: []*persistence.EntryRecord{
			{
				Account:       "0x00000000000000000000000000000000000000a1",
				Balance:       "1000000000000000000000",
				Contributions: map[string]string{"mints": "999999999999999999999", "graph": "1"},
			},
			{
				Account:       "0x00000000000000000000000000000000000000b2",
				Balance:       "0",
				Contributions: map[string]string{"graph": "0"},
			},
		},
		AppliedDeltaIDs:   []string{"delta-1"},
		RecoveredAccounts: []string{"0x00000000000000000000000000000000000000a1"},
		Gaps: []types.Gap{
			{Source: "mints", Kind: types.GapKindBlockRange, FromBlock: 100, ToBlock: 199, Attempts: 5, Error: "timeout"},
		},
	}
}

// Factory opens a fresh, empty backend.
type Factory func(t *testing.T) persistence.ISnapshotPersistence

// Run exercises a backend against the ISnapshotPersistence contract.
func Run(t *testing.T, open Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(time.Now().UTC())
		require.NoError(t, p.SaveSnapshot(record))

		loaded, err := p.LoadSnapshot(record.RunID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record.RunID, loaded.RunID)
		assert.True(t, record.CreatedAt.Equal(loaded.CreatedAt))
		assert.Equal(t, record.MerkleRoot, loaded.MerkleRoot)
		assert.Equal(t, record.Entries, loaded.Entries)
		assert.Equal(t, record.AppliedDeltaIDs, loaded.AppliedDeltaIDs)
		assert.Equal(t, record.RecoveredAccounts, loaded.RecoveredAccounts)
		assert.Equal(t, record.Gaps, loaded.Gaps)

		restored, err := loaded.RestoreLedger()
		require.NoError(t, err)
		assert.Equal(t, 2, restored.Len())
		assert.True(t, restored.HasAppliedDelta("delta-1"))
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		loaded, err := p.LoadSnapshot(uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		require.Error(t, p.SaveSnapshot(nil))
		require.Error(t, p.SaveSnapshot(&persistence.SnapshotRecord{CreatedAt: time.Now()}))
	})

	t.Run("Overwrite", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(time.Now().UTC())
		require.NoError(t, p.SaveSnapshot(record))
		record.MerkleRoot = "0xfeed"
		require.NoError(t, p.SaveSnapshot(record))

		loaded, err := p.LoadSnapshot(record.RunID)
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", loaded.MerkleRoot)
	})

	t.Run("ExternalMutation", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(time.Now().UTC())
		require.NoError(t, p.SaveSnapshot(record))
		record.Entries[0].Balance = "1"

		loaded, err := p.LoadSnapshot(record.RunID)
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000000", loaded.Entries[0].Balance)

		loaded.Entries[0].Balance = "2"
		again, err := p.LoadSnapshot(record.RunID)
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000000", again.Entries[0].Balance)
	})

	t.Run("ListAndLatest", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		latest, err := p.LoadLatestSnapshot()
		require.NoError(t, err)
		assert.Nil(t, latest)

		base := time.Now().UTC().Truncate(time.Second)
		second := NewRecord(base.Add(2 * time.Minute))
		first := NewRecord(base)
		third := NewRecord(base.Add(5 * time.Minute))
		for _, r := range []*persistence.SnapshotRecord{second, first, third} {
			require.NoError(t, p.SaveSnapshot(r))
		}

		list, err := p.ListSnapshots()
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, first.RunID, list[0].RunID)
		assert.Equal(t, second.RunID, list[1].RunID)
		assert.Equal(t, third.RunID, list[2].RunID)

		latest, err = p.LoadLatestSnapshot()
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, third.RunID, latest.RunID)

		require.NoError(t, p.DeleteSnapshot(third.RunID))
		latest, err = p.LoadLatestSnapshot()
		require.NoError(t, err)
		assert.Equal(t, second.RunID, latest.RunID)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		record := NewRecord(time.Now().UTC())
		require.NoError(t, p.SaveSnapshot(record))
		require.NoError(t, p.DeleteSnapshot(record.RunID))
		require.NoError(t, p.DeleteSnapshot(record.RunID))

		loaded, err := p.LoadSnapshot(record.RunID)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		p := open(t)
		defer func() { _ = p.Close() }()

		var wg sync.WaitGroup
		base := time.Now().UTC()
		errs := make(chan error, 20)
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				errs <- p.SaveSnapshot(NewRecord(base.Add(time.Duration(i) * time.Second)))
			}(i)
			go func() {
				defer wg.Done()
				_, err := p.ListSnapshots()
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		list, err := p.ListSnapshots()
		require.NoError(t, err)
		assert.Len(t, list, 10)
	})

	t.Run("ClosedOperations", func(t *testing.T) {
		p := open(t)
		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())
		require.NoError(t, p.Close())

		require.Error(t, p.SaveSnapshot(NewRecord(time.Now())))
		_, err := p.LoadSnapshot("x")
		require.Error(t, err)
		_, err = p.LoadLatestSnapshot()
		require.Error(t, err)
		_, err = p.ListSnapshots()
		require.Error(t, err)
		require.Error(t, p.DeleteSnapshot("x"))
		require.Error(t, p.HealthCheck())
	})
}
