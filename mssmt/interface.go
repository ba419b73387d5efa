package mssmt

import "context"

// Tree is an interface defining an abstract MS-SMT tree type.
type Tree interface {
	// Root returns the root node of the MS-SMT.
	Root(ctx context.Context) (*BranchNode, error)

	// Insert inserts a leaf node at the given key within the MS-SMT.
	Insert(ctx context.Context, key [hashSize]byte, leaf *LeafNode) (
		Tree, error)

	// Delete deletes the leaf node found at the given key within the
	// MS-SMT. Deleting a key that is not present is a no-op.
	Delete(ctx context.Context, key [hashSize]byte) (Tree, error)

	// Get returns the leaf node found at the given key within the
	// MS-SMT. The returned leaf is the empty leaf if no leaf is committed
	// at that key.
	Get(ctx context.Context, key [hashSize]byte) (*LeafNode, error)

	// MerkleProof generates a merkle proof for the leaf node found at
	// the given key within the MS-SMT. If a leaf node does not exist at
	// the given key, then the proof should be considered a non-inclusion
	// proof. This is noted by the returned `Proof` carrying the empty
	// leaf.
	MerkleProof(ctx context.Context, key [hashSize]byte) (*Proof, error)

	// RetainRoot pins the current root so that its nodes survive
	// subsequent mutations, and returns its hash. The pinned root can be
	// read through At until it is handed back to ReleaseRoot.
	RetainRoot(ctx context.Context) (NodeHash, error)

	// ReleaseRoot drops the pin taken out by RetainRoot, allowing the
	// store to reclaim any node no longer reachable from a live root.
	ReleaseRoot(ctx context.Context, root NodeHash) error

	// DeleteRoot releases the tree's current root, allowing the store
	// to reclaim all nodes not shared with a retained snapshot.
	DeleteRoot(ctx context.Context) error

	// DeleteAllNodes deletes all nodes within the MS-SMT, including any
	// retained snapshots.
	DeleteAllNodes(ctx context.Context) error
}
