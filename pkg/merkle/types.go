package merkle

// Hash is a 32-byte tree node.
type Hash = [32]byte

// MerkleTree is a binary merkle tree over a set of leaves using sorted-pair hashing.
type MerkleTree struct {
	// Leaves contains the deduplicated leaf hashes in ascending byte order
	Leaves []Hash

	// Root is the merkle root hash
	Root Hash

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = [root]
	levels [][]Hash

	// index maps a leaf to its position in Leaves
	index map[Hash]int

	hasher *Hasher
}

// Levels returns a copy of every tree level, leaves first and root last.
func (mt *MerkleTree) Levels() [][]Hash {
	out := make([][]Hash, len(mt.levels))
	for i, level := range mt.levels {
		out[i] = append([]Hash(nil), level...)
	}
	return out
}

// MerkleProof is the sibling path proving a leaf's membership.
// Because parents are hashed over sorted children, no left/right metadata is needed.
type MerkleProof struct {
	// LeafIndex is the position of the leaf in the sorted leaf set, informational only
	LeafIndex int

	// Leaf is the hash being proven
	Leaf Hash

	// Proof contains the sibling hashes from leaf to root; levels where the node
	// was carried up unpaired contribute nothing
	Proof []Hash
}
