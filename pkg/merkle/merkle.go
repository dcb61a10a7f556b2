package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrEmptyTree is returned when a tree is built from zero leaves.
var ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf set")

// LeafNotFoundError is returned when a proof is requested for a leaf that is not in the tree.
type LeafNotFoundError struct {
	Leaf Hash
}

func (e *LeafNotFoundError) Error() string {
	return fmt.Sprintf("leaf %s not found in tree", hexutil.Encode(e.Leaf[:]))
}

// BuildTree builds a keccak256 sorted-pair merkle tree. See (*Hasher).BuildTree.
func BuildTree(leaves []Hash) (*MerkleTree, error) {
	return NewKeccak256Hasher().BuildTree(leaves)
}

// BuildTree creates a binary merkle tree over a set of leaves.
//
// The leaves are deduplicated and sorted by byte value first, so the root depends only on
// the set and not on the order it was supplied in. Each parent is H(min(a,b) || max(a,b)).
// If a level has an odd number of nodes the last node is carried up unchanged, never duplicated.
func (h *Hasher) BuildTree(leaves []Hash) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	sorted := SortLeaves(leaves)

	index := make(map[Hash]int, len(sorted))
	for i, leaf := range sorted {
		index[leaf] = i
	}

	// Build tree levels bottom-up
	levels := [][]Hash{sorted}
	currentLevel := sorted
	for len(currentLevel) > 1 {
		nextLevel := make([]Hash, 0, (len(currentLevel)+1)/2)
		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 == len(currentLevel) {
				// Odd tail is promoted as-is
				nextLevel = append(nextLevel, currentLevel[i])
				continue
			}
			nextLevel = append(nextLevel, h.HashPair(currentLevel[i], currentLevel[i+1]))
		}
		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: sorted,
		Root:   currentLevel[0],
		levels: levels,
		index:  index,
		hasher: h,
	}, nil
}

// SortLeaves returns a deduplicated copy of leaves in ascending byte order.
func SortLeaves(leaves []Hash) []Hash {
	sorted := make([]Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return compareHash(sorted[i], sorted[j]) < 0
	})

	out := sorted[:0]
	for i, leaf := range sorted {
		if i > 0 && leaf == sorted[i-1] {
			continue
		}
		out = append(out, leaf)
	}
	return out
}

// Contains reports whether leaf is in the tree.
func (mt *MerkleTree) Contains(leaf Hash) bool {
	_, ok := mt.index[leaf]
	return ok
}

// IndexOf returns the leaf's position in the sorted leaf set.
func (mt *MerkleTree) IndexOf(leaf Hash) (int, bool) {
	i, ok := mt.index[leaf]
	return i, ok
}

// GetProof returns the proof for a leaf, or *LeafNotFoundError.
func (mt *MerkleTree) GetProof(leaf Hash) (*MerkleProof, error) {
	leafIndex, ok := mt.index[leaf]
	if !ok {
		return nil, &LeafNotFoundError{Leaf: leaf}
	}
	return mt.GenerateProof(leafIndex)
}

// GenerateProof creates a merkle proof for the leaf at the given index.
// The proof consists of sibling hashes along the path from leaf to root.
func (mt *MerkleTree) GenerateProof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([]Hash, 0, len(mt.levels))
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index + 1
		if index%2 == 1 {
			siblingIndex = index - 1
		}

		// Carried up unpaired, nothing to prove at this level
		if siblingIndex < len(currentLevel) {
			proof = append(proof, currentLevel[siblingIndex])
		}

		index = index / 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     proof,
	}, nil
}

// Verify checks a proof against this tree's root with the tree's hash function.
func (mt *MerkleTree) Verify(leaf Hash, proof []Hash) bool {
	return mt.hasher.Verify(leaf, proof, mt.Root)
}

// Verify recomputes the root from leaf and proof with sorted-pair hashing and compares it to root.
func (h *Hasher) Verify(leaf Hash, proof []Hash, root Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = h.HashPair(current, sibling)
	}
	return current == root
}

// VerifyProof verifies a keccak256 proof. A nil proof never verifies.
func VerifyProof(proof *MerkleProof, root Hash) bool {
	if proof == nil {
		return false
	}
	return NewKeccak256Hasher().Verify(proof.Leaf, proof.Proof, root)
}

func compareHash(a, b Hash) int {
	return bytes.Compare(a[:], b[:])
}
