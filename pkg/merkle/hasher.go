package merkle

import (
	"fmt"

	"github.com/wealdtech/go-merkletree/v2/keccak256"
)

// HashFunction is the pluggable hash used for leaves and parents.
// The go-merkletree hash types satisfy it.
type HashFunction interface {
	Hash(data ...[]byte) []byte
}

const (
	HashFunctionKeccak256 = "keccak256"
)

// Hasher computes leaves and parent nodes with a fixed hash function.
type Hasher struct {
	name string
	fn   HashFunction
}

// NewHasher returns a Hasher for a named hash function. Only keccak256 is accepted
// since that is what on-chain verifiers recompute.
func NewHasher(name string) (*Hasher, error) {
	switch name {
	case HashFunctionKeccak256, "":
		return &Hasher{name: HashFunctionKeccak256, fn: keccak256.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported hash function %q", name)
	}
}

// NewKeccak256Hasher returns the default keccak256 hasher.
func NewKeccak256Hasher() *Hasher {
	h, _ := NewHasher(HashFunctionKeccak256)
	return h
}

// Name returns the hash function name recorded in commitments.
func (h *Hasher) Name() string {
	return h.name
}

func (h *Hasher) sum(data ...[]byte) Hash {
	var out Hash
	copy(out[:], h.fn.Hash(data...))
	return out
}

// HashPair returns H(min(a,b) || max(a,b)).
func (h *Hasher) HashPair(a, b Hash) Hash {
	if compareHash(a, b) > 0 {
		a, b = b, a
	}
	return h.sum(a[:], b[:])
}
