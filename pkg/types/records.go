package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies which on-chain event shape a source scans for.
type EventKind string

const (
	EventKindTransfer EventKind = "transfer"
	EventKindMint     EventKind = "mint"
	EventKindStaked   EventKind = "staked"
)

// EventMeta locates a decoded log on chain.
type EventMeta struct {
	Chain       string
	Contract    common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// TransferEvent is a decoded Transfer(address indexed from, address indexed to, uint256 value).
type TransferEvent struct {
	EventMeta
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// MintEvent is a decoded Mint(address indexed to, uint256 amount).
type MintEvent struct {
	EventMeta
	To     common.Address
	Amount *big.Int
}

// StakedEvent is a decoded Staked(address indexed account, uint256 amount).
type StakedEvent struct {
	EventMeta
	Account common.Address
	Amount  *big.Int
}

// Event is implemented by every decoded log record.
type Event interface {
	Meta() EventMeta
	Validate() error
	// Contributions converts the event into ledger contributions for the given source.
	Contributions(source string) []*Contribution
}

func (e *TransferEvent) Meta() EventMeta { return e.EventMeta }
func (e *MintEvent) Meta() EventMeta     { return e.EventMeta }
func (e *StakedEvent) Meta() EventMeta   { return e.EventMeta }

func validateAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("amount is nil")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("amount %s is negative", amount)
	}
	return nil
}

func (e *TransferEvent) Validate() error {
	if err := validateAmount(e.Amount); err != nil {
		return fmt.Errorf("transfer at block %d: %w", e.BlockNumber, err)
	}
	if e.From == (common.Address{}) && e.To == (common.Address{}) {
		return fmt.Errorf("transfer at block %d: both sides are the zero address", e.BlockNumber)
	}
	return nil
}

func (e *MintEvent) Validate() error {
	if err := validateAmount(e.Amount); err != nil {
		return fmt.Errorf("mint at block %d: %w", e.BlockNumber, err)
	}
	if e.To == (common.Address{}) {
		return fmt.Errorf("mint at block %d: recipient is the zero address", e.BlockNumber)
	}
	return nil
}

func (e *StakedEvent) Validate() error {
	if err := validateAmount(e.Amount); err != nil {
		return fmt.Errorf("stake at block %d: %w", e.BlockNumber, err)
	}
	if e.Account == (common.Address{}) {
		return fmt.Errorf("stake at block %d: account is the zero address", e.BlockNumber)
	}
	return nil
}

// Contributions credits the recipient and debits the sender. The zero address is skipped on either side.
func (e *TransferEvent) Contributions(source string) []*Contribution {
	out := make([]*Contribution, 0, 2)
	if e.From != (common.Address{}) {
		out = append(out, &Contribution{
			Account: CanonicalAddress(e.From),
			Source:  source,
			Amount:  new(big.Int).Neg(e.Amount),
			Mode:    MergeModeAdd,
		})
	}
	if e.To != (common.Address{}) {
		out = append(out, &Contribution{
			Account: CanonicalAddress(e.To),
			Source:  source,
			Amount:  new(big.Int).Set(e.Amount),
			Mode:    MergeModeAdd,
		})
	}
	return out
}

func (e *MintEvent) Contributions(source string) []*Contribution {
	return []*Contribution{{
		Account: CanonicalAddress(e.To),
		Source:  source,
		Amount:  new(big.Int).Set(e.Amount),
		Mode:    MergeModeAdd,
	}}
}

func (e *StakedEvent) Contributions(source string) []*Contribution {
	return []*Contribution{{
		Account: CanonicalAddress(e.Account),
		Source:  source,
		Amount:  new(big.Int).Set(e.Amount),
		Mode:    MergeModeAdd,
	}}
}

// GraphBalanceRow is one account/balance row from a graph indexer page. The balance is absolute.
type GraphBalanceRow struct {
	Account string
	Balance *big.Int
}

func (r *GraphBalanceRow) Validate() error {
	if _, err := NormalizeAddress(r.Account); err != nil {
		return err
	}
	return validateAmount(r.Balance)
}

// Contribution converts the row into a set-mode contribution. Validate must have passed.
func (r *GraphBalanceRow) Contribution(source string) *Contribution {
	account, _ := NormalizeAddress(r.Account)
	return &Contribution{
		Account: account,
		Source:  source,
		Amount:  new(big.Int).Set(r.Balance),
		Mode:    MergeModeSet,
	}
}

// DeltaSign is the direction of a recovery delta.
type DeltaSign string

const (
	DeltaSignCredit DeltaSign = "+"
	DeltaSignDebit  DeltaSign = "-"
)

// RecoveryDelta corrects a previously computed snapshot, e.g. for a mint event found after the fact.
// ID must be unique; it is what makes repeated application a no-op.
type RecoveryDelta struct {
	ID      string    `json:"id"`
	Account string    `json:"account"`
	Source  string    `json:"source"`
	Amount  *big.Int  `json:"amount"`
	Sign    DeltaSign `json:"sign"`
}

func (d *RecoveryDelta) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("recovery delta has no id")
	}
	if _, err := NormalizeAddress(d.Account); err != nil {
		return fmt.Errorf("recovery delta %s: %w", d.ID, err)
	}
	if d.Source == "" {
		return fmt.Errorf("recovery delta %s: source is empty", d.ID)
	}
	if err := validateAmount(d.Amount); err != nil {
		return fmt.Errorf("recovery delta %s: %w", d.ID, err)
	}
	if d.Sign != DeltaSignCredit && d.Sign != DeltaSignDebit {
		return fmt.Errorf("recovery delta %s: unknown sign %q", d.ID, d.Sign)
	}
	return nil
}

// Signed returns the delta amount with its sign applied.
func (d *RecoveryDelta) Signed() *big.Int {
	if d.Sign == DeltaSignDebit {
		return new(big.Int).Neg(d.Amount)
	}
	return new(big.Int).Set(d.Amount)
}
