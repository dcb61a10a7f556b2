package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Checksummed", "0x42583067658071247ec8CE0A516A58f682002d07", "0x42583067658071247ec8ce0a516a58f682002d07", false},
		{"Upper case", "0xD4A7E1BD8015057293F0D0A557088C286942E84B", "0xd4a7e1bd8015057293f0d0a557088c286942e84b", false},
		{"No prefix", "d4a7e1bd8015057293f0d0a557088c286942e84b", "0xd4a7e1bd8015057293f0d0a557088c286942e84b", false},
		{"Surrounding whitespace", "  0xd4a7e1bd8015057293f0d0a557088c286942e84b\n", "0xd4a7e1bd8015057293f0d0a557088c286942e84b", false},
		{"Too short", "0x1234", "", true},
		{"Not hex", "0xzz583067658071247ec8ce0a516a58f682002d07", "", true},
		{"Empty", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeAddress(tc.input)
			if tc.wantErr {
				var addrErr *InvalidAddressError
				require.ErrorAs(t, err, &addrErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransferEventContributions(t *testing.T) {
	from := common.HexToAddress("0x1000000000000000000000000000000000000001")
	to := common.HexToAddress("0x2000000000000000000000000000000000000002")

	t.Run("Regular transfer debits and credits", func(t *testing.T) {
		ev := &TransferEvent{From: from, To: to, Amount: big.NewInt(50)}
		require.NoError(t, ev.Validate())

		contribs := ev.Contributions("transfers")
		require.Len(t, contribs, 2)
		assert.Equal(t, CanonicalAddress(from), contribs[0].Account)
		assert.Equal(t, big.NewInt(-50), contribs[0].Amount)
		assert.Equal(t, CanonicalAddress(to), contribs[1].Account)
		assert.Equal(t, big.NewInt(50), contribs[1].Amount)
		for _, c := range contribs {
			assert.Equal(t, MergeModeAdd, c.Mode)
			assert.Equal(t, "transfers", c.Source)
		}
	})

	t.Run("Mint through zero address only credits", func(t *testing.T) {
		ev := &TransferEvent{To: to, Amount: big.NewInt(7)}
		contribs := ev.Contributions("transfers")
		require.Len(t, contribs, 1)
		assert.Equal(t, CanonicalAddress(to), contribs[0].Account)
	})

	t.Run("Burn to zero address only debits", func(t *testing.T) {
		ev := &TransferEvent{From: from, Amount: big.NewInt(7)}
		contribs := ev.Contributions("transfers")
		require.Len(t, contribs, 1)
		assert.Equal(t, big.NewInt(-7), contribs[0].Amount)
	})

	t.Run("Invalid events", func(t *testing.T) {
		require.Error(t, (&TransferEvent{}).Validate())
		require.Error(t, (&TransferEvent{From: from, To: to}).Validate())
		require.Error(t, (&TransferEvent{From: from, To: to, Amount: big.NewInt(-1)}).Validate())
	})
}

func TestContributionBatch(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	ev := &TransferEvent{From: from, To: to, Amount: big.NewInt(5)}

	b := &ContributionBatch{Source: "transfers"}
	b.Add(ev.Contributions("transfers")...)
	b.Add()
	b.Add(&Contribution{Account: CanonicalAddress(to), Source: "transfers", Amount: big.NewInt(1), Mode: MergeModeAdd})

	require.Len(t, b.Groups, 2)
	assert.Len(t, b.Groups[0], 2)
	assert.Len(t, b.Contributions(), 3)

	single := NewContributionBatch("graph", b.Contributions()...)
	assert.Len(t, single.Groups, 3)
}

func TestMintAndStakedEvents(t *testing.T) {
	acct := common.HexToAddress("0x3000000000000000000000000000000000000003")

	mint := &MintEvent{To: acct, Amount: big.NewInt(10)}
	require.NoError(t, mint.Validate())
	require.Len(t, mint.Contributions("mints"), 1)
	require.Error(t, (&MintEvent{Amount: big.NewInt(10)}).Validate())

	staked := &StakedEvent{Account: acct, Amount: big.NewInt(3)}
	require.NoError(t, staked.Validate())
	c := staked.Contributions("stakes")[0]
	assert.Equal(t, MergeModeAdd, c.Mode)
	assert.Equal(t, big.NewInt(3), c.Amount)
}

func TestGraphBalanceRow(t *testing.T) {
	row := &GraphBalanceRow{Account: "0xABCDEF0000000000000000000000000000000001", Balance: big.NewInt(99)}
	require.NoError(t, row.Validate())

	c := row.Contribution("graph")
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", c.Account)
	assert.Equal(t, MergeModeSet, c.Mode)

	require.Error(t, (&GraphBalanceRow{Account: "nope", Balance: big.NewInt(1)}).Validate())
	require.Error(t, (&GraphBalanceRow{Account: row.Account}).Validate())
}

func TestRecoveryDelta(t *testing.T) {
	d := &RecoveryDelta{
		ID:      "missed-mint-1",
		Account: "0x3000000000000000000000000000000000000003",
		Source:  "historical-recovery",
		Amount:  big.NewInt(5),
		Sign:    DeltaSignDebit,
	}
	require.NoError(t, d.Validate())
	assert.Equal(t, big.NewInt(-5), d.Signed())

	d.Sign = DeltaSignCredit
	assert.Equal(t, big.NewInt(5), d.Signed())

	bad := *d
	bad.ID = ""
	require.Error(t, bad.Validate())

	bad = *d
	bad.Sign = "*"
	require.Error(t, bad.Validate())
}
