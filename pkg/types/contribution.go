package types

import (
	"fmt"
	"math/big"
)

// MergeMode selects how a contribution is folded into a ledger entry.
type MergeMode string

const (
	// MergeModeAdd accumulates the amount onto the source's existing contribution.
	MergeModeAdd MergeMode = "add"
	// MergeModeSet replaces the source's contribution with an absolute amount.
	MergeModeSet MergeMode = "set"
)

func (m MergeMode) String() string {
	return string(m)
}

// Valid reports whether m is a known merge mode.
func (m MergeMode) Valid() bool {
	return m == MergeModeAdd || m == MergeModeSet
}

// Contribution is the only record shape accepted by the ledger merge stage.
// Amount may be negative in add mode, which debits the source bucket.
type Contribution struct {
	Account string
	Source  string
	Amount  *big.Int
	Mode    MergeMode
}

// ContributionGroup is what one source record produces, e.g. both legs of a transfer.
// A group merges all or nothing.
type ContributionGroup []*Contribution

// ContributionBatch is every contribution produced by one source in one run,
// grouped per record, in the order they must be merged.
type ContributionBatch struct {
	Source string
	Groups []ContributionGroup
}

// NewContributionBatch puts each contribution in a group of its own.
func NewContributionBatch(source string, cs ...*Contribution) *ContributionBatch {
	b := &ContributionBatch{Source: source, Groups: make([]ContributionGroup, 0, len(cs))}
	for _, c := range cs {
		b.Add(c)
	}
	return b
}

// Add appends the contributions of one record as a single group. An empty group is dropped.
func (b *ContributionBatch) Add(cs ...*Contribution) {
	if len(cs) == 0 {
		return
	}
	b.Groups = append(b.Groups, ContributionGroup(cs))
}

// Contributions flattens the batch in merge order.
func (b *ContributionBatch) Contributions() []*Contribution {
	var out []*Contribution
	for _, g := range b.Groups {
		out = append(out, g...)
	}
	return out
}

func (c *Contribution) String() string {
	return fmt.Sprintf("%s %s %s %s", c.Mode, c.Source, c.Account, c.Amount)
}
