package ledger

import (
	"fmt"
	"math/big"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// DeltaResult is the outcome of one recovery delta.
type DeltaResult struct {
	ID      string
	Applied bool
	Err     error
}

// ApplyRecoveryDelta applies corrections to an existing ledger. Each delta adds to or subtracts
// from its account's source bucket. A delta whose ID is already in the delta-application log is
// skipped with ErrDeltaAlreadyApplied, so applying the same list twice changes nothing.
//
// Deltas are independent: a delta that fails validation or would drive its bucket negative is
// reported in its result and does not stop the rest. The caller recommits the ledger afterwards.
func (l *Ledger) ApplyRecoveryDelta(deltas []*types.RecoveryDelta) []DeltaResult {
	results := make([]DeltaResult, 0, len(deltas))
	for _, d := range deltas {
		if d == nil {
			results = append(results, DeltaResult{Err: fmt.Errorf("nil recovery delta")})
			continue
		}
		res := DeltaResult{ID: d.ID}

		if err := d.Validate(); err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		if l.HasAppliedDelta(d.ID) {
			res.Err = fmt.Errorf("%w: %s", ErrDeltaAlreadyApplied, d.ID)
			results = append(results, res)
			continue
		}
		if err := l.MergeContribution(d.Account, d.Source, d.Signed(), types.MergeModeAdd); err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		l.appliedDeltas[d.ID] = struct{}{}
		res.Applied = true
		results = append(results, res)
	}
	return results
}

// Restore rebuilds a ledger from persisted entries and its delta-application log.
// Balances are recomputed from contributions rather than trusted.
func Restore(entries []*LedgerEntry, appliedDeltaIDs []string) (*Ledger, error) {
	l := NewLedger()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if len(e.ContributionsBySource) == 0 {
			// zero is a real value: keep the account even with nothing contributed
			key, err := types.NormalizeAddress(e.Account)
			if err != nil {
				return nil, fmt.Errorf("failed to restore entry: %w", err)
			}
			l.entries[key] = &LedgerEntry{Account: key, Balance: new(big.Int), ContributionsBySource: map[string]*big.Int{}}
			continue
		}
		for _, source := range e.Sources() {
			if err := l.MergeContribution(e.Account, source, e.ContributionsBySource[source], types.MergeModeSet); err != nil {
				return nil, fmt.Errorf("failed to restore entry: %w", err)
			}
		}
	}
	for _, id := range appliedDeltaIDs {
		l.appliedDeltas[id] = struct{}{}
	}
	return l, nil
}
