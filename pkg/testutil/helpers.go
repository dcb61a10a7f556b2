package testutil

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/ledger"
	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// Canonical test accounts, already lowercase.
const (
	Alice = "0x00000000000000000000000000000000000000a1"
	Bob   = "0x00000000000000000000000000000000000000b2"
	Carol = "0x00000000000000000000000000000000000000c3"
	Dave  = "0x00000000000000000000000000000000000000d4"
)

// Add returns an accumulating contribution.
func Add(source, account string, amount int64) *types.Contribution {
	return &types.Contribution{Account: account, Source: source, Amount: big.NewInt(amount), Mode: types.MergeModeAdd}
}

// Set returns a replacing contribution.
func Set(source, account string, amount int64) *types.Contribution {
	return &types.Contribution{Account: account, Source: source, Amount: big.NewInt(amount), Mode: types.MergeModeSet}
}

// LedgerFrom merges contributions in order and fails the test on any rejected merge.
func LedgerFrom(t *testing.T, cs ...*types.Contribution) *ledger.Ledger {
	t.Helper()
	l := ledger.NewLedger()
	for _, c := range cs {
		require.NoError(t, l.Merge(c), c.String())
	}
	return l
}

// SampleContributions is a small multi-source set: alice has two sources, carol sits at zero.
// Each (account, source) bucket appears once, so any merge order gives the same ledger.
func SampleContributions() []*types.Contribution {
	return []*types.Contribution{
		Add("mints", Alice, 100),
		Add("mints", Bob, 40),
		Set("graph", Alice, 5),
		Set("graph", Carol, 0),
		Add("stakes", Dave, 7),
	}
}
