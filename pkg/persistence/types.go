package persistence

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// SnapshotRecord is everything needed to rebuild a run's ledger and re-derive its commitment.
// The tree itself is not stored; it is a pure function of the entries.
type SnapshotRecord struct {
	RunID string `json:"runId"`

	// ParentRunID is set on records produced by recovery from an earlier run
	ParentRunID string `json:"parentRunId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	MerkleRoot          string `json:"merkleRoot"`
	HashFunction        string `json:"hashFunction"`
	IncludeZeroBalances bool   `json:"includeZeroBalances"`

	Entries []*EntryRecord `json:"entries"`

	// AppliedDeltaIDs is the ledger's delta-application log
	AppliedDeltaIDs []string `json:"appliedDeltaIds"`

	// RecoveredAccounts lists accounts touched by an applied recovery delta
	RecoveredAccounts []string `json:"recoveredAccounts,omitempty"`

	Gaps []types.Gap `json:"gaps,omitempty"`
}

// EntryRecord is a ledger entry with amounts as decimal strings.
type EntryRecord struct {
	Account       string            `json:"account"`
	Balance       string            `json:"balance"`
	Contributions map[string]string `json:"contributions"`
}

// NewEntryRecords converts a ledger's entries in canonical account order.
func NewEntryRecords(l *ledger.Ledger) []*EntryRecord {
	entries := l.Entries()
	out := make([]*EntryRecord, len(entries))
	for i, e := range entries {
		rec := &EntryRecord{
			Account:       e.Account,
			Balance:       e.Balance.String(),
			Contributions: make(map[string]string, len(e.ContributionsBySource)),
		}
		for source, amount := range e.ContributionsBySource {
			rec.Contributions[source] = amount.String()
		}
		out[i] = rec
	}
	return out
}

// RestoreLedger rebuilds the record's ledger, delta log included. Stored balances are checked
// against the sum of contributions.
func (r *SnapshotRecord) RestoreLedger() (*ledger.Ledger, error) {
	entries := make([]*ledger.LedgerEntry, 0, len(r.Entries))
	for _, rec := range r.Entries {
		if rec == nil {
			continue
		}
		entry := &ledger.LedgerEntry{
			Account:               rec.Account,
			ContributionsBySource: make(map[string]*big.Int, len(rec.Contributions)),
		}
		for source, s := range rec.Contributions {
			amount, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("entry %s has invalid amount %q for source %s", rec.Account, s, source)
			}
			entry.ContributionsBySource[source] = amount
		}
		entries = append(entries, entry)
	}

	l, err := ledger.Restore(entries, r.AppliedDeltaIDs)
	if err != nil {
		return nil, err
	}

	for _, rec := range r.Entries {
		if rec == nil || rec.Balance == "" {
			continue
		}
		if got := l.Balance(rec.Account).String(); got != rec.Balance {
			return nil, fmt.Errorf("entry %s balance %s does not match its contributions (%s)", rec.Account, rec.Balance, got)
		}
	}
	return l, nil
}

// Before reports whether r sorts before o in listing order.
func (r *SnapshotRecord) Before(o *SnapshotRecord) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.RunID < o.RunID
}

// SortRecords sorts records into listing order.
func SortRecords(records []*SnapshotRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Before(records[j])
	})
}

// Validate checks the fields every backend keys on.
func (r *SnapshotRecord) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("snapshot record has no run id")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("snapshot record %s has no creation time", r.RunID)
	}
	return nil
}
