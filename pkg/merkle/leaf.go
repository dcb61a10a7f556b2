package merkle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EncodingError is returned when an (account, balance) pair cannot be encoded as a leaf.
type EncodingError struct {
	Account string
	Balance *big.Int
	Reason  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode leaf for %s with balance %s: %s", e.Account, e.Balance, e.Reason)
}

var leafArguments = mustLeafArguments()

func mustLeafArguments() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: addressType}, {Type: uint256Type}}
}

// EncodeLeaf returns abi.encode(address, uint256): two 32-byte words.
func EncodeLeaf(account string, balance *big.Int) ([]byte, error) {
	if !common.IsHexAddress(account) {
		return nil, &EncodingError{Account: account, Balance: balance, Reason: "not a 20-byte hex address"}
	}
	if balance == nil {
		return nil, &EncodingError{Account: account, Balance: balance, Reason: "balance is nil"}
	}
	if balance.Sign() < 0 {
		return nil, &EncodingError{Account: account, Balance: balance, Reason: "balance is negative"}
	}
	if balance.BitLen() > 256 {
		return nil, &EncodingError{Account: account, Balance: balance, Reason: "balance exceeds uint256"}
	}

	encoded, err := leafArguments.Pack(common.HexToAddress(account), balance)
	if err != nil {
		return nil, &EncodingError{Account: account, Balance: balance, Reason: err.Error()}
	}
	return encoded, nil
}

// ComputeLeaf returns H(H(abi.encode(account, balance))). The second hash keeps a leaf
// from ever being mistaken for a 64-byte internal node preimage.
func (h *Hasher) ComputeLeaf(account string, balance *big.Int) (Hash, error) {
	encoded, err := EncodeLeaf(account, balance)
	if err != nil {
		return Hash{}, err
	}
	inner := h.sum(encoded)
	return h.sum(inner[:]), nil
}

// ComputeLeaf hashes a leaf with keccak256, matching Solidity's
// keccak256(bytes.concat(keccak256(abi.encode(account, balance)))).
func ComputeLeaf(account string, balance *big.Int) (Hash, error) {
	return NewKeccak256Hasher().ComputeLeaf(account, balance)
}
