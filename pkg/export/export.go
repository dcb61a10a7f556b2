package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/merkle"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/snapshot"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// Default file names written by WriteAll.
const (
	LedgerSnapshotFile = "ledger.json"
	CommitmentFile     = "commitment.json"
	ReviewCSVFile      = "review.csv"
	GapReportFile      = "gaps.json"
)

// CSV review flags.
const (
	FlagZero        = "zero"
	FlagMultiSource = "multi-source"
	FlagRecovered   = "recovered"
	FlagExcluded    = "excluded"
)

// AccountSnapshot is one account in the ledger snapshot file.
type AccountSnapshot struct {
	Balance       string            `json:"balance"`
	Contributions map[string]string `json:"contributions"`
	Leaf          string            `json:"leaf,omitempty"`
	InTree        bool              `json:"inTree"`
	ExcludeReason string            `json:"excludeReason,omitempty"`
}

// LedgerSnapshot is the ledger snapshot file: the source of truth for a run.
type LedgerSnapshot struct {
	RunID               string                      `json:"runId"`
	ParentRunID         string                      `json:"parentRunId,omitempty"`
	CreatedAt           time.Time                   `json:"createdAt"`
	HashFunction        string                      `json:"hashFunction"`
	IncludeZeroBalances bool                        `json:"includeZeroBalances"`
	MerkleRoot          string                      `json:"merkleRoot"`
	AppliedDeltaIDs     []string                    `json:"appliedDeltaIds"`
	RecoveredAccounts   []string                    `json:"recoveredAccounts,omitempty"`
	Accounts            map[string]*AccountSnapshot `json:"accounts"`
}

// CommitmentOutput is the commitment file handed to whoever anchors the root.
type CommitmentOutput struct {
	// TreeData is the ledger snapshot with each account's leaf
	TreeData map[string]*AccountSnapshot `json:"treeData"`
	// TreeLevels holds every level as hex, leaves first and the root last
	TreeLevels [][]string `json:"treeLevels"`
	MerkleRoot string     `json:"merkleRoot"`
}

// LeafData is the preimage of a proven leaf.
type LeafData struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Leaf    string `json:"leaf"`
}

// ProofOutput is the answer to a proof query.
type ProofOutput struct {
	ProofIndex *int     `json:"proofIndex"`
	Proof      []string `json:"proof"`
	LeafData   LeafData `json:"leafData"`
	MerkleRoot string   `json:"merkleRoot"`
}

// GapReport lists what a run could not fetch.
type GapReport struct {
	RunID string      `json:"runId"`
	Gaps  []types.Gap `json:"gaps"`
}

func hexHash(h merkle.Hash) string {
	return hexutil.Encode(h[:])
}

// NewLedgerSnapshot converts a commitment to the ledger snapshot file form.
func NewLedgerSnapshot(c *snapshot.Commitment) *LedgerSnapshot {
	out := &LedgerSnapshot{
		RunID:               c.RunID,
		ParentRunID:         c.ParentRunID,
		CreatedAt:           c.CreatedAt,
		HashFunction:        c.HashFunction,
		IncludeZeroBalances: c.IncludeZeroBalances,
		MerkleRoot:          c.RootHex(),
		AppliedDeltaIDs:     c.AppliedDeltaIDs,
		Accounts:            make(map[string]*AccountSnapshot, len(c.Entries)),
	}
	for _, e := range c.Entries {
		acct := &AccountSnapshot{
			Balance:       e.Balance.String(),
			Contributions: make(map[string]string, len(e.ContributionsBySource)),
			InTree:        e.InTree,
			ExcludeReason: e.ExcludeReason,
		}
		for source, amount := range e.ContributionsBySource {
			acct.Contributions[source] = amount.String()
		}
		if e.Leaf != (merkle.Hash{}) {
			acct.Leaf = hexHash(e.Leaf)
		}
		if c.Recovered[e.Account] {
			out.RecoveredAccounts = append(out.RecoveredAccounts, e.Account)
		}
		out.Accounts[e.Account] = acct
	}
	return out
}

// Ledger rebuilds the ledger recorded in a snapshot file.
func (s *LedgerSnapshot) Ledger() (*ledger.Ledger, error) {
	entries := make([]*ledger.LedgerEntry, 0, len(s.Accounts))
	for account, acct := range s.Accounts {
		if acct == nil {
			continue
		}
		entry := &ledger.LedgerEntry{Account: account, ContributionsBySource: make(map[string]*big.Int, len(acct.Contributions))}
		for source, v := range acct.Contributions {
			amount, ok := new(big.Int).SetString(v, 10)
			if !ok {
				return nil, fmt.Errorf("account %s has invalid amount %q for source %s", account, v, source)
			}
			entry.ContributionsBySource[source] = amount
		}
		entries = append(entries, entry)
	}
	return ledger.Restore(entries, s.AppliedDeltaIDs)
}

// Commitment recommits the snapshot's ledger and checks the root against the recorded one.
func (s *LedgerSnapshot) Commitment() (*snapshot.Commitment, error) {
	l, err := s.Ledger()
	if err != nil {
		return nil, err
	}
	hasher, err := merkle.NewHasher(s.HashFunction)
	if err != nil {
		return nil, err
	}
	c, err := snapshot.Commit(l, hasher, s.IncludeZeroBalances, nil)
	if err != nil {
		return nil, err
	}
	if s.MerkleRoot != "" && c.RootHex() != s.MerkleRoot {
		return nil, fmt.Errorf("recomputed root %s does not match recorded root %s", c.RootHex(), s.MerkleRoot)
	}
	c.RunID = s.RunID
	c.ParentRunID = s.ParentRunID
	c.CreatedAt = s.CreatedAt
	for _, account := range s.RecoveredAccounts {
		c.Recovered[account] = true
	}
	return c, nil
}

// NewCommitmentOutput converts a commitment's tree to the commitment file form.
func NewCommitmentOutput(c *snapshot.Commitment) *CommitmentOutput {
	levels := c.Tree.Levels()
	levelsHex := make([][]string, len(levels))
	for i, level := range levels {
		levelsHex[i] = make([]string, len(level))
		for j, h := range level {
			levelsHex[i][j] = hexHash(h)
		}
	}
	return &CommitmentOutput{
		TreeData:   NewLedgerSnapshot(c).Accounts,
		TreeLevels: levelsHex,
		MerkleRoot: c.RootHex(),
	}
}

// NewProofOutput converts a proof query result.
func NewProofOutput(r *snapshot.ProofResult) *ProofOutput {
	out := &ProofOutput{
		ProofIndex: r.ProofIndex,
		Proof:      make([]string, len(r.Proof)),
		LeafData: LeafData{
			Address: r.Account,
			Amount:  r.Balance.String(),
		},
		MerkleRoot: hexHash(r.Root),
	}
	if r.Leaf != (merkle.Hash{}) {
		out.LeafData.Leaf = hexHash(r.Leaf)
	}
	for i, h := range r.Proof {
		out.Proof[i] = hexHash(h)
	}
	return out
}

// Flags returns the review flags of one entry in a fixed order.
func Flags(c *snapshot.Commitment, e *snapshot.CommittedEntry) []string {
	var flags []string
	if e.Balance.Sign() == 0 {
		flags = append(flags, FlagZero)
	}
	if len(e.ContributionsBySource) > 1 {
		flags = append(flags, FlagMultiSource)
	}
	if c.Recovered[e.Account] {
		flags = append(flags, FlagRecovered)
	}
	if !e.InTree {
		flags = append(flags, FlagExcluded)
	}
	return flags
}

// WriteCSV writes address,amount,flags rows in canonical account order.
func WriteCSV(w io.Writer, c *snapshot.Commitment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "amount", "flags"}); err != nil {
		return err
	}
	for _, e := range c.Entries {
		row := []string{e.Account, e.Balance.String(), strings.Join(Flags(c, e), "|")}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteProof writes a proof query result as JSON.
func WriteProof(w io.Writer, r *snapshot.ProofResult) error {
	return WriteJSON(w, NewProofOutput(r))
}

// WriteProofFile writes a proof query result to path.
func WriteProofFile(path string, r *snapshot.ProofResult) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteProof(w, r)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteLedgerSnapshot writes the ledger snapshot file.
func WriteLedgerSnapshot(path string, c *snapshot.Commitment) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteJSON(w, NewLedgerSnapshot(c))
	})
}

// WriteCommitment writes the commitment file.
func WriteCommitment(path string, c *snapshot.Commitment) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteJSON(w, NewCommitmentOutput(c))
	})
}

// WriteCSVFile writes the review CSV.
func WriteCSVFile(path string, c *snapshot.Commitment) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteCSV(w, c)
	})
}

// WriteGapReport writes the run's gaps. An empty report is still written so its absence
// never reads as "no gaps".
func WriteGapReport(path string, c *snapshot.Commitment) error {
	gaps := c.Gaps
	if gaps == nil {
		gaps = []types.Gap{}
	}
	return writeFile(path, func(w io.Writer) error {
		return WriteJSON(w, &GapReport{RunID: c.RunID, Gaps: gaps})
	})
}

// WriteAll writes every export file into dir and returns their paths.
func WriteAll(dir string, c *snapshot.Commitment) ([]string, error) {
	files := []struct {
		name  string
		write func(string, *snapshot.Commitment) error
	}{
		{LedgerSnapshotFile, WriteLedgerSnapshot},
		{CommitmentFile, WriteCommitment},
		{ReviewCSVFile, WriteCSVFile},
		{GapReportFile, WriteGapReport},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := f.write(path, c); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ReadLedgerSnapshot reads a ledger snapshot file.
func ReadLedgerSnapshot(path string) (*LedgerSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot %s: %w", path, err)
	}
	var s LedgerSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse ledger snapshot %s: %w", path, err)
	}
	return &s, nil
}

type deltaJSON struct {
	ID      string          `json:"id"`
	Account string          `json:"account"`
	Source  string          `json:"source"`
	Amount  json.RawMessage `json:"amount"`
	Sign    types.DeltaSign `json:"sign"`
}

// ReadDeltas reads a JSON array of recovery deltas. Amounts may be JSON integers or decimal strings.
func ReadDeltas(path string) ([]*types.RecoveryDelta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deltas %s: %w", path, err)
	}
	return ParseDeltas(data)
}

// ParseDeltas decodes and validates recovery deltas. Any invalid delta fails the whole file.
func ParseDeltas(data []byte) ([]*types.RecoveryDelta, error) {
	var raw []deltaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse deltas: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	deltas := make([]*types.RecoveryDelta, 0, len(raw))
	for i, r := range raw {
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("delta %d (%s): %w", i, r.ID, err)
		}
		d := &types.RecoveryDelta{ID: r.ID, Account: r.Account, Source: r.Source, Amount: amount, Sign: r.Sign}
		if d.Sign == "" {
			d.Sign = types.DeltaSignCredit
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("delta %d: %w", i, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("delta %d: duplicate id %s", i, d.ID)
		}
		seen[d.ID] = true
		deltas = append(deltas, d)
	}
	return deltas, nil
}

func parseAmount(raw json.RawMessage) (*big.Int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, fmt.Errorf("amount is missing")
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid amount %s", raw)
		}
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	return v, nil
}

// ReadProof reads a proof file written by WriteProof.
func ReadProof(path string) (*ProofOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof %s: %w", path, err)
	}
	var out ProofOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse proof %s: %w", path, err)
	}
	return &out, nil
}

func parseHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	b, err := hexutil.Decode(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash %s is %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// VerifyProof checks a proof file on its own: the leaf is recomputed from the address and
// amount, then hashed up the proof and compared to root. An empty root uses the root recorded
// in the proof.
func VerifyProof(p *ProofOutput, hasher *merkle.Hasher, root string) error {
	if p.ProofIndex == nil {
		return fmt.Errorf("account %s is not in the tree", p.LeafData.Address)
	}
	if root == "" {
		root = p.MerkleRoot
	}
	rootHash, err := parseHash(root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}

	amount, ok := new(big.Int).SetString(p.LeafData.Amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", p.LeafData.Amount)
	}
	leaf, err := hasher.ComputeLeaf(p.LeafData.Address, amount)
	if err != nil {
		return err
	}
	if p.LeafData.Leaf != "" {
		recorded, err := parseHash(p.LeafData.Leaf)
		if err != nil {
			return fmt.Errorf("invalid leaf: %w", err)
		}
		if recorded != leaf {
			return fmt.Errorf("leaf %s does not match %s, %s", p.LeafData.Leaf, p.LeafData.Address, p.LeafData.Amount)
		}
	}

	proof := make([]merkle.Hash, len(p.Proof))
	for i, s := range p.Proof {
		if proof[i], err = parseHash(s); err != nil {
			return fmt.Errorf("invalid proof element %d: %w", i, err)
		}
	}
	if !hasher.Verify(leaf, proof, rootHash) {
		return fmt.Errorf("proof does not lead to root %s", root)
	}
	return nil
}
