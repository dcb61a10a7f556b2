package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the canonical form of the zero address. Transfers to or from it are mints and burns.
var ZeroAddress = CanonicalAddress(common.Address{})

// InvalidAddressError is returned when a string is not a 20-byte hex address.
type InvalidAddressError struct {
	Value string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q", e.Value)
}

// NormalizeAddress validates a hex address and returns its canonical lower-case 0x-prefixed form.
func NormalizeAddress(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return "", &InvalidAddressError{Value: s}
	}
	return CanonicalAddress(common.HexToAddress(trimmed)), nil
}

// CanonicalAddress renders an address as lower-case hex, the ledger key format.
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// MustNormalizeAddress is NormalizeAddress for constants and tests.
func MustNormalizeAddress(s string) string {
	addr, err := NormalizeAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}
