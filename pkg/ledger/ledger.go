package ledger

import (
	"math/big"
	"sort"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// LedgerEntry is one account's balance and the per-source contributions it is made of.
// Balance always equals the sum of ContributionsBySource.
type LedgerEntry struct {
	Account               string
	Balance               *big.Int
	ContributionsBySource map[string]*big.Int
}

// Sources returns the entry's source names in sorted order.
func (e *LedgerEntry) Sources() []string {
	sources := make([]string, 0, len(e.ContributionsBySource))
	for s := range e.ContributionsBySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

func (e *LedgerEntry) clone() *LedgerEntry {
	c := &LedgerEntry{
		Account:               e.Account,
		Balance:               new(big.Int).Set(e.Balance),
		ContributionsBySource: make(map[string]*big.Int, len(e.ContributionsBySource)),
	}
	for s, amt := range e.ContributionsBySource {
		c.ContributionsBySource[s] = new(big.Int).Set(amt)
	}
	return c
}

func (e *LedgerEntry) recomputeBalance() {
	total := new(big.Int)
	for _, amt := range e.ContributionsBySource {
		total.Add(total, amt)
	}
	e.Balance = total
}

// Ledger is the account -> entry mapping feeding the commitment.
//
// A Ledger is not safe for concurrent use. It is owned by a single merge coordinator
// while sources are collected, and is read-only once handed to the commitment stage.
type Ledger struct {
	entries map[string]*LedgerEntry

	// appliedDeltas is the delta-application log keyed by delta ID.
	appliedDeltas map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries:       make(map[string]*LedgerEntry),
		appliedDeltas: make(map[string]struct{}),
	}
}

// MergeContribution folds amount from sourceName into account's entry.
//
// In add mode amount is accumulated onto the source bucket; a negative amount debits it.
// In set mode the source bucket is replaced by amount, which must not be negative.
// Either way the total balance is recomputed as the sum of all buckets. A merge that would
// leave the bucket negative returns *InvalidContributionError and leaves the ledger untouched.
func (l *Ledger) MergeContribution(account, sourceName string, amount *big.Int, mode types.MergeMode) error {
	key, err := types.NormalizeAddress(account)
	if err != nil {
		return &InvalidContributionError{Account: account, Source: sourceName, Amount: amount, Reason: err.Error()}
	}
	if sourceName == "" {
		return &InvalidContributionError{Account: key, Source: sourceName, Amount: amount, Reason: "source name is empty"}
	}
	if amount == nil {
		return &InvalidContributionError{Account: key, Source: sourceName, Amount: amount, Reason: "amount is nil"}
	}

	entry, exists := l.entries[key]

	current := new(big.Int)
	if exists {
		if prev, ok := entry.ContributionsBySource[sourceName]; ok {
			current.Set(prev)
		}
	}

	var next *big.Int
	switch mode {
	case types.MergeModeAdd:
		next = new(big.Int).Add(current, amount)
	case types.MergeModeSet:
		next = new(big.Int).Set(amount)
	default:
		return &InvalidContributionError{Account: key, Source: sourceName, Amount: amount, Reason: "unknown merge mode " + string(mode)}
	}

	if next.Sign() < 0 {
		return &InvalidContributionError{
			Account: key,
			Source:  sourceName,
			Amount:  amount,
			Reason:  "source contribution would become " + next.String(),
		}
	}

	if !exists {
		entry = &LedgerEntry{
			Account:               key,
			Balance:               new(big.Int),
			ContributionsBySource: make(map[string]*big.Int),
		}
		l.entries[key] = entry
	}
	entry.ContributionsBySource[sourceName] = next
	entry.recomputeBalance()
	return nil
}

// Merge applies a single contribution record.
func (l *Ledger) Merge(c *types.Contribution) error {
	return l.MergeContribution(c.Account, c.Source, c.Amount, c.Mode)
}

// MergeAll applies cs as one unit. If any contribution is rejected, every entry touched
// by cs is restored and the first rejection is returned.
func (l *Ledger) MergeAll(cs []*types.Contribution) error {
	saved := make(map[string]*LedgerEntry, len(cs))
	for _, c := range cs {
		key, err := types.NormalizeAddress(c.Account)
		if err != nil {
			continue
		}
		if _, ok := saved[key]; ok {
			continue
		}
		if entry, exists := l.entries[key]; exists {
			saved[key] = entry.clone()
		} else {
			saved[key] = nil
		}
	}

	for _, c := range cs {
		if err := l.Merge(c); err != nil {
			for key, entry := range saved {
				if entry == nil {
					delete(l.entries, key)
				} else {
					l.entries[key] = entry
				}
			}
			return err
		}
	}
	return nil
}

// Get returns a copy of account's entry, or nil if the account has never been merged.
func (l *Ledger) Get(account string) *LedgerEntry {
	key, err := types.NormalizeAddress(account)
	if err != nil {
		return nil
	}
	entry, ok := l.entries[key]
	if !ok {
		return nil
	}
	return entry.clone()
}

// Balance returns account's total balance; zero for unknown accounts.
func (l *Ledger) Balance(account string) *big.Int {
	if entry := l.Get(account); entry != nil {
		return entry.Balance
	}
	return new(big.Int)
}

// Len returns the number of accounts in the ledger.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Accounts returns every account key in canonical (ascending) order.
func (l *Ledger) Accounts() []string {
	accounts := make([]string, 0, len(l.entries))
	for a := range l.entries {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts
}

// Entries returns copies of every entry in canonical account order.
func (l *Ledger) Entries() []*LedgerEntry {
	accounts := l.Accounts()
	out := make([]*LedgerEntry, len(accounts))
	for i, a := range accounts {
		out[i] = l.entries[a].clone()
	}
	return out
}

// TotalSupply is the sum of every account's balance.
func (l *Ledger) TotalSupply() *big.Int {
	total := new(big.Int)
	for _, e := range l.entries {
		total.Add(total, e.Balance)
	}
	return total
}

// AppliedDeltaIDs returns the delta-application log in sorted order.
func (l *Ledger) AppliedDeltaIDs() []string {
	ids := make([]string, 0, len(l.appliedDeltas))
	for id := range l.appliedDeltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasAppliedDelta reports whether a delta ID is in the delta-application log.
func (l *Ledger) HasAppliedDelta(id string) bool {
	_, ok := l.appliedDeltas[id]
	return ok
}
