package snapshot

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/merkle"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/persistence"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

const (
	ExcludeReasonZeroBalance = "zero balance"
)

// CommittedEntry is a ledger entry together with its leaf.
type CommittedEntry struct {
	Account               string
	Balance               *big.Int
	ContributionsBySource map[string]*big.Int
	Leaf                  merkle.Hash
	InTree                bool
	// ExcludeReason says why an entry is not in the tree
	ExcludeReason string
}

// Sources returns the entry's contributing source names in sorted order.
func (e *CommittedEntry) Sources() []string {
	sources := make([]string, 0, len(e.ContributionsBySource))
	for s := range e.ContributionsBySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// Commitment is the output of a run: every ledger entry, the tree over the included leaves,
// and what the run could not fetch.
type Commitment struct {
	RunID       string
	ParentRunID string
	CreatedAt   time.Time

	HashFunction        string
	IncludeZeroBalances bool

	MerkleRoot merkle.Hash
	Tree       *merkle.MerkleTree

	// Entries are in canonical account order
	Entries []*CommittedEntry

	Ledger          *ledger.Ledger
	AppliedDeltaIDs []string
	Recovered       map[string]bool

	Gaps     []types.Gap
	Rejected int

	byAccount map[string]*CommittedEntry
}

// Commit derives the leaves and tree from a ledger. It reads nothing but its arguments, so the
// same ledger always yields the same root. Zero balances stay in Entries but only enter the
// tree when includeZero is set. An entry whose leaf cannot be encoded is logged and left out.
func Commit(l *ledger.Ledger, hasher *merkle.Hasher, includeZero bool, logger *zap.Logger) (*Commitment, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher cannot be nil")
	}

	ledgerEntries := l.Entries()
	c := &Commitment{
		HashFunction:        hasher.Name(),
		IncludeZeroBalances: includeZero,
		Entries:             make([]*CommittedEntry, 0, len(ledgerEntries)),
		Ledger:              l,
		AppliedDeltaIDs:     l.AppliedDeltaIDs(),
		Recovered:           make(map[string]bool),
		byAccount:           make(map[string]*CommittedEntry, len(ledgerEntries)),
	}

	leaves := make([]merkle.Hash, 0, len(ledgerEntries))
	for _, e := range ledgerEntries {
		entry := &CommittedEntry{
			Account:               e.Account,
			Balance:               e.Balance,
			ContributionsBySource: e.ContributionsBySource,
		}
		c.Entries = append(c.Entries, entry)
		c.byAccount[e.Account] = entry

		leaf, err := hasher.ComputeLeaf(e.Account, e.Balance)
		if err != nil {
			entry.ExcludeReason = err.Error()
			if logger != nil {
				logger.Sugar().Warnw("Leaving account out of the tree, leaf cannot be encoded",
					"account", e.Account,
					"balance", e.Balance,
					"error", err,
				)
			}
			continue
		}
		entry.Leaf = leaf

		if e.Balance.Sign() == 0 && !includeZero {
			entry.ExcludeReason = ExcludeReasonZeroBalance
			continue
		}
		entry.InTree = true
		leaves = append(leaves, leaf)
	}

	tree, err := hasher.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build tree over %d accounts: %w", len(ledgerEntries), err)
	}
	c.Tree = tree
	c.MerkleRoot = tree.Root

	return c, nil
}

// Entry returns the committed entry for an account, or nil.
func (c *Commitment) Entry(account string) *CommittedEntry {
	key, err := types.NormalizeAddress(account)
	if err != nil {
		return nil
	}
	return c.byAccount[key]
}

// LeafCount is the number of leaves in the tree.
func (c *Commitment) LeafCount() int {
	return len(c.Tree.Leaves)
}

// RootHex is the root as 0x-prefixed hex.
func (c *Commitment) RootHex() string {
	return hexutil.Encode(c.MerkleRoot[:])
}

// ProofResult answers a proof query for one account.
type ProofResult struct {
	Account string
	Balance *big.Int
	Leaf    merkle.Hash
	Root    merkle.Hash
	// ProofIndex is the leaf's position in the sorted leaf set; nil when the account is not in the tree
	ProofIndex *int
	Proof      []merkle.Hash
}

// InTree reports whether the queried account has a proof.
func (r *ProofResult) InTree() bool {
	return r.ProofIndex != nil
}

// Proof looks up an account's proof. An account that is unknown or excluded from the tree gets
// a result with a nil ProofIndex; only a malformed address is an error.
func (c *Commitment) Proof(account string) (*ProofResult, error) {
	key, err := types.NormalizeAddress(account)
	if err != nil {
		return nil, err
	}

	result := &ProofResult{Account: key, Root: c.MerkleRoot, Balance: new(big.Int)}
	entry := c.byAccount[key]
	if entry == nil {
		return result, nil
	}
	result.Balance = entry.Balance
	result.Leaf = entry.Leaf
	if !entry.InTree {
		return result, nil
	}

	proof, err := c.Tree.GetProof(entry.Leaf)
	if err != nil {
		return nil, err
	}
	index := proof.LeafIndex
	result.ProofIndex = &index
	result.Proof = proof.Proof
	return result, nil
}

// Record converts the commitment to its durable form.
func (c *Commitment) Record() *persistence.SnapshotRecord {
	recovered := make([]string, 0, len(c.Recovered))
	for account := range c.Recovered {
		recovered = append(recovered, account)
	}
	sort.Strings(recovered)

	return &persistence.SnapshotRecord{
		RunID:               c.RunID,
		ParentRunID:         c.ParentRunID,
		CreatedAt:           c.CreatedAt,
		MerkleRoot:          c.RootHex(),
		HashFunction:        c.HashFunction,
		IncludeZeroBalances: c.IncludeZeroBalances,
		Entries:             persistence.NewEntryRecords(c.Ledger),
		AppliedDeltaIDs:     c.AppliedDeltaIDs,
		RecoveredAccounts:   recovered,
		Gaps:                c.Gaps,
	}
}

// FromRecord rebuilds a commitment from a stored record and checks that the recomputed root
// matches the stored one.
func FromRecord(record *persistence.SnapshotRecord, logger *zap.Logger) (*Commitment, error) {
	if record == nil {
		return nil, fmt.Errorf("snapshot record cannot be nil")
	}
	hasher, err := merkle.NewHasher(record.HashFunction)
	if err != nil {
		return nil, err
	}
	l, err := record.RestoreLedger()
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger of run %s: %w", record.RunID, err)
	}

	c, err := Commit(l, hasher, record.IncludeZeroBalances, logger)
	if err != nil {
		return nil, err
	}
	if record.MerkleRoot != "" && c.RootHex() != record.MerkleRoot {
		return nil, fmt.Errorf("run %s: recomputed root %s does not match stored root %s", record.RunID, c.RootHex(), record.MerkleRoot)
	}

	c.RunID = record.RunID
	c.ParentRunID = record.ParentRunID
	c.CreatedAt = record.CreatedAt
	c.Gaps = record.Gaps
	for _, account := range record.RecoveredAccounts {
		c.Recovered[account] = true
	}
	return c, nil
}
