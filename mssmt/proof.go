package mssmt

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProof is returned when a proof does not carry exactly
	// one sibling per tree level.
	ErrInvalidProof = errors.New("mssmt: invalid proof")

	// ErrInvalidCompressedProof is returned when a compressed proof
	// does not expand to exactly one sibling per tree level.
	ErrInvalidCompressedProof = errors.New(
		"mssmt: invalid compressed proof",
	)
)

// Proof represents a merkle proof for a MS-SMT.
type Proof struct {
	// Nodes represents the siblings that should be hashed with the leaf
	// and its parents to arrive at the root of the MS-SMT, ordered from
	// the deepest level up.
	Nodes []Node

	// Leaf is the leaf the proof commits to: the stored leaf for an
	// inclusion proof and the empty leaf for a non-inclusion proof.
	Leaf *LeafNode
}

// NewProof initializes a new merkle proof for the given leaf node. A nil
// leaf denotes non-inclusion.
func NewProof(nodes []Node, leaf *LeafNode) *Proof {
	if leaf == nil {
		leaf = EmptyLeafNode
	}

	return &Proof{
		Nodes: nodes,
		Leaf:  leaf,
	}
}

// IsInclusion reports whether this proof commits to a non-empty leaf.
func (p Proof) IsInclusion() bool {
	return !p.Leaf.IsEmpty()
}

// Root returns the root that commits the proof's leaf under the given key.
// An error is returned for proofs of the wrong shape and for proofs whose
// node sums overflow along the path, both of which can never match a valid
// root.
func (p Proof) Root(key [hashSize]byte) (*BranchNode, error) {
	if len(p.Nodes) != MaxTreeLevels {
		return nil, fmt.Errorf("%w: expected %d nodes, got %d",
			ErrInvalidProof, MaxTreeLevels, len(p.Nodes))
	}

	return walkUp(&key, p.Leaf, p.Nodes, nil)
}

// Copy returns a deep copy of the proof.
func (p Proof) Copy() *Proof {
	nodesCopy := make([]Node, len(p.Nodes))
	for idx, node := range p.Nodes {
		nodesCopy[idx] = node.Copy()
	}

	return &Proof{
		Nodes: nodesCopy,
		Leaf:  p.Leaf.Copy().(*LeafNode),
	}
}

// Compress compresses a merkle proof by replacing runs of consecutive
// empty-subtree siblings with their run length.
func (p Proof) Compress() *CompressedProof {
	var entries []ProofEntry
	for idx, node := range p.Nodes {
		// The sibling at index idx sits at depth MaxTreeLevels-idx.
		isEmpty := node.NodeHash() ==
			EmptyTree[MaxTreeLevels-idx].NodeHash()

		switch {
		case !isEmpty:
			entries = append(entries, ProofEntry{Sibling: node})

		// Extend the currently open run of empty siblings.
		case len(entries) > 0 &&
			entries[len(entries)-1].NumEmpty > 0:

			entries[len(entries)-1].NumEmpty++

		default:
			entries = append(entries, ProofEntry{NumEmpty: 1})
		}
	}

	return &CompressedProof{
		Entries: entries,
		Leaf:    p.Leaf.Copy().(*LeafNode),
	}
}

// ProofEntry is a single entry of a compressed merkle proof: either one
// literal sibling node, or a run of NumEmpty consecutive empty-subtree
// siblings.
type ProofEntry struct {
	// Sibling is the literal sibling node, nil for an empty run.
	Sibling Node

	// NumEmpty is the length of the empty run, zero for a literal
	// sibling.
	NumEmpty uint16
}

// CompressedProof represents a compressed MS-SMT merkle proof.
type CompressedProof struct {
	// Entries holds the proof's siblings with runs of empty subtrees
	// collapsed, ordered from the deepest level up.
	Entries []ProofEntry

	// Leaf is the leaf the proof commits to.
	Leaf *LeafNode
}

// Decompress expands a compressed proof back into a full merkle proof. An
// error is returned if the entries don't expand to exactly one sibling per
// tree level.
func (p *CompressedProof) Decompress() (*Proof, error) {
	nodes := make([]Node, 0, MaxTreeLevels)
	for _, entry := range p.Entries {
		switch {
		case entry.Sibling != nil && entry.NumEmpty == 0:
			nodes = append(nodes, entry.Sibling)

		case entry.Sibling == nil && entry.NumEmpty > 0:
			for i := uint16(0); i < entry.NumEmpty; i++ {
				depth := MaxTreeLevels - len(nodes)
				if depth < 1 {
					return nil, fmt.Errorf("%w: empty "+
						"run extends beyond the root",
						ErrInvalidCompressedProof)
				}
				nodes = append(nodes, EmptyTree[depth])
			}

		default:
			return nil, fmt.Errorf("%w: entry is neither a "+
				"sibling nor an empty run",
				ErrInvalidCompressedProof)
		}
	}

	if len(nodes) != MaxTreeLevels {
		return nil, fmt.Errorf("%w: expected %d nodes, got %d",
			ErrInvalidCompressedProof, MaxTreeLevels, len(nodes))
	}

	return NewProof(nodes, p.Leaf), nil
}

// VerifyMerkleProof determines whether a merkle proof for the leaf found at
// the given key is valid against the given root. Proofs of the wrong shape
// and proofs whose sums overflow never verify.
func VerifyMerkleProof(key [hashSize]byte, proof *Proof, root Node) bool {
	computed, err := proof.Root(key)
	if err != nil {
		return false
	}

	return IsEqualNode(computed, root)
}
