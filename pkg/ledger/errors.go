package ledger

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrDeltaAlreadyApplied is reported for a recovery delta whose ID is already in the ledger's delta log.
var ErrDeltaAlreadyApplied = errors.New("recovery delta already applied")

// InvalidContributionError is returned when a merge would leave a negative per-source contribution,
// or when the contribution itself is malformed. The ledger is left unchanged.
type InvalidContributionError struct {
	Account string
	Source  string
	Amount  *big.Int
	Reason  string
}

func (e *InvalidContributionError) Error() string {
	return fmt.Sprintf("invalid contribution of %s from %q to %s: %s", e.Amount, e.Source, e.Account, e.Reason)
}
