package mssmt

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

const (
	// MaxTreeLevels represents the depth of the MS-SMT.
	MaxTreeLevels = hashSize * 8

	// lastBitIndex represents the index of the last bit for MS-SMT keys.
	lastBitIndex = MaxTreeLevels - 1
)

var (
	// EmptyTree stores a copy of all nodes up to the root in a MS-SMT in
	// which all the leaves are empty. Each depth has exactly one such
	// sentinel, shared by every tree in the process.
	EmptyTree []Node

	// EmptyTreeRootHash caches the value of a completely empty tree's
	// root hash. This can be used to detect a tree's emptiness without
	// needing to rely on the root sum alone.
	EmptyTreeRootHash NodeHash

	// emptyTreeHashes indexes the sentinel hashes of all depths, so
	// stores can tell in O(1) that a hash needs no storage or reference
	// counting.
	emptyTreeHashes map[NodeHash]struct{}

	// ErrIntegerOverflow is an error returned when the result of an
	// arithmetic operation on two integer values exceeds the maximum
	// value that can be stored in the data type.
	ErrIntegerOverflow = errors.New("integer overflow")

	// ErrTreeReadOnly is returned when a mutating operation is attempted
	// on a read-only view of a retained root.
	ErrTreeReadOnly = errors.New("mssmt: tree view is read-only")
)

func init() {
	// Force the calculation of the node hash for the empty leaf node.
	// This ensures the value is fully cached for the loop below.
	EmptyLeafNode.NodeHash()

	// Initialize the empty MS-SMT by starting from an empty leaf and
	// hashing all the way up to the root.
	EmptyTree = make([]Node, MaxTreeLevels+1)
	EmptyTree[MaxTreeLevels] = EmptyLeafNode
	for i := lastBitIndex; i >= 0; i-- {
		// Create the branch and force the calculation of its hash and
		// sum. We already computed those for each of the siblings, so
		// the cached values can be used here. Without this, concurrent
		// callers would race on populating the caches.
		branch := NewBranch(EmptyTree[i+1], EmptyTree[i+1])
		branch.NodeHash()
		branch.NodeSum()

		EmptyTree[i] = branch
	}

	EmptyTreeRootHash = EmptyTree[0].NodeHash()

	emptyTreeHashes = make(map[NodeHash]struct{}, len(EmptyTree))
	for _, node := range EmptyTree {
		emptyTreeHashes[node.NodeHash()] = struct{}{}
	}
}

// IsEmptyTreeHash returns whether the given hash is the sentinel hash of an
// all-empty subtree at any depth.
func IsEmptyTreeHash(key NodeHash) bool {
	_, ok := emptyTreeHashes[key]
	return ok
}

// bitIndex returns the bit found at `idx` for a key.
func bitIndex(idx uint8, key *[hashSize]byte) byte {
	byteVal := key[idx/8]
	return (byteVal >> (idx % 8)) & 1
}

// iterFunc is a type alias for closures to be invoked at every iteration of
// walking through a tree.
type iterFunc = func(height int, current, sibling, parent Node) error

// walkUp walks up from the `start` leaf node to the root with the help of
// `siblings`, which are ordered from the leaf level upward. The computed
// root branch is returned. Any sum combination that would overflow aborts
// the walk with ErrIntegerOverflow.
func walkUp(key *[hashSize]byte, start *LeafNode, siblings []Node,
	iter iterFunc) (*BranchNode, error) {

	var current Node = start
	for i := lastBitIndex; i >= 0; i-- {
		sibling := siblings[lastBitIndex-i]

		err := CheckSumOverflowUint64(
			current.NodeSum(), sibling.NodeSum(),
		)
		if err != nil {
			return nil, fmt.Errorf("branch sum at height %d: %w",
				i, err)
		}

		var parent Node
		if bitIndex(uint8(i), key) == 0 {
			parent = NewBranch(current, sibling)
		} else {
			parent = NewBranch(sibling, current)
		}

		if iter != nil {
			if err := iter(i, current, sibling, parent); err != nil {
				return nil, err
			}
		}
		current = parent
	}

	return current.(*BranchNode), nil
}

// FullTree represents a Merkle-Sum Sparse Merkle Tree (MS-SMT). A MS-SMT is
// an augmented version of a sparse merkle tree that includes a sum value,
// which is combined during the internal branch hashing operation. Such trees
// permit efficient proofs of non-inclusion, while also supporting efficient
// fault proofs of invalid merkle sum commitments.
//
// Mutations are copy-on-write: every insert or delete stores a fresh path of
// nodes and releases the previous root. Roots pinned through RetainRoot
// keep their nodes alive and stay readable through At.
type FullTree struct {
	store TreeStore

	// viewRoot, when set, fixes this tree to a read-only view of the
	// given retained root.
	viewRoot *NodeHash
}

var _ Tree = (*FullTree)(nil)

// NewFullTree initializes an empty MS-SMT backed by `store`.
func NewFullTree(store TreeStore) *FullTree {
	return &FullTree{
		store: store,
	}
}

// At returns a read-only view of the tree at the given root. The root must
// either be the current root or one previously pinned with RetainRoot and
// not yet released.
func (t *FullTree) At(root NodeHash) *FullTree {
	return &FullTree{
		store:    t.store,
		viewRoot: &root,
	}
}

// rootNode resolves the node this tree reads from: the store's current root,
// or the fixed view root for snapshot views.
func (t *FullTree) rootNode(tx TreeStoreViewTx) (Node, error) {
	if t.viewRoot == nil {
		return tx.RootNode()
	}

	if IsEmptyTreeHash(*t.viewRoot) {
		return EmptyTree[0], nil
	}

	return tx.FetchNode(*t.viewRoot)
}

// Root returns the root node of the MS-SMT.
func (t *FullTree) Root(ctx context.Context) (*BranchNode, error) {
	var root Node
	err := t.store.View(ctx, func(tx TreeStoreViewTx) error {
		var err error
		root, err = t.rootNode(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	branch, ok := root.(*BranchNode)
	if !ok {
		return nil, fmt.Errorf("root %v is not a branch",
			root.NodeHash())
	}

	return branch, nil
}

// walkDown walks down the tree from the root node to the leaf indexed by
// `key`. The leaf node found is returned.
func (t *FullTree) walkDown(tx TreeStoreViewTx, key *[hashSize]byte,
	iter iterFunc) (*LeafNode, error) {

	current, err := t.rootNode(tx)
	if err != nil {
		return nil, err
	}

	for i := 0; i <= lastBitIndex; i++ {
		left, right, err := tx.GetChildren(i, current.NodeHash())
		if err != nil {
			return nil, err
		}

		var next, sibling Node
		if bitIndex(uint8(i), key) == 0 {
			next, sibling = left, right
		} else {
			next, sibling = right, left
		}
		if iter != nil {
			if err := iter(i, next, sibling, current); err != nil {
				return nil, err
			}
		}
		current = next
	}

	leaf, ok := current.(*LeafNode)
	if !ok {
		return nil, fmt.Errorf("node at leaf level is a %T, not a "+
			"leaf", current)
	}

	return leaf, nil
}

// insert stores the new leaf at the given key, rebuilding the path of
// branches above it, and returns the resulting root. The previous root's
// nodes are left untouched.
func (t *FullTree) insert(tx TreeStoreUpdateTx, key *[hashSize]byte,
	leaf *LeafNode) (*BranchNode, error) {

	siblings := make([]Node, MaxTreeLevels)
	var prevRoot Node
	current, err := t.walkDown(
		tx, key, func(i int, _, sibling, parent Node) error {
			siblings[MaxTreeLevels-1-i] = sibling
			if i == 0 {
				prevRoot = parent
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	// Re-inserting the exact leaf already committed at the key, or
	// deleting an absent key, leaves the tree untouched. Short-circuiting
	// here keeps the store's reference counts exact.
	if IsEqualNode(current, leaf) {
		return prevRoot.(*BranchNode), nil
	}

	// The new root sum swaps the displaced leaf's contribution for the
	// new leaf's, and must stay within the 64-bit range.
	remainder := prevRoot.NodeSum() - current.NodeSum()
	err = CheckSumOverflowUint64(remainder, leaf.NodeSum())
	if err != nil {
		return nil, fmt.Errorf("leaf insert sum overflow, tree: %d, "+
			"leaf: %d; %w", remainder, leaf.NodeSum(), err)
	}

	// Deletions store nothing at the leaf level: the empty leaf is a
	// shared sentinel.
	if !leaf.IsEmpty() {
		if err := tx.InsertLeaf(leaf); err != nil {
			return nil, err
		}
	}

	// Now work back up to the root, storing every new branch along the
	// way. Branches equal to an empty subtree are represented implicitly
	// and never stored, which is what collapses all-empty paths after
	// deletions.
	return walkUp(
		key, leaf, siblings, func(i int, _, _, parent Node) error {
			if IsEmptyTreeHash(parent.NodeHash()) {
				return nil
			}
			return tx.InsertBranch(parent.(*BranchNode))
		},
	)
}

// replaceLeaf runs the full copy-on-write mutation cycle: insert the new
// path, re-point the root, release the previous root.
func (t *FullTree) replaceLeaf(tx TreeStoreUpdateTx, key *[hashSize]byte,
	leaf *LeafNode) error {

	prevRoot, err := tx.RootNode()
	if err != nil {
		return err
	}
	prevHash := prevRoot.NodeHash()

	newRoot, err := t.insert(tx, key, leaf)
	if err != nil {
		return err
	}

	if newRoot.NodeHash() == prevHash {
		return nil
	}

	if err := tx.UpdateRoot(newRoot); err != nil {
		return err
	}

	if !IsEmptyTreeHash(prevHash) {
		return tx.ReleaseNode(prevHash)
	}

	return nil
}

// Insert inserts a leaf node at the given key within the MS-SMT.
// Re-inserting at an occupied key overwrites the committed leaf.
func (t *FullTree) Insert(ctx context.Context, key [hashSize]byte,
	leaf *LeafNode) (Tree, error) {

	if t.viewRoot != nil {
		return nil, ErrTreeReadOnly
	}

	err := t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return t.replaceLeaf(tx, &key, leaf)
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Delete deletes the leaf node found at the given key within the MS-SMT.
// Deleting a key that is not present is a no-op.
func (t *FullTree) Delete(ctx context.Context, key [hashSize]byte) (Tree,
	error) {

	if t.viewRoot != nil {
		return nil, ErrTreeReadOnly
	}

	err := t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return t.replaceLeaf(tx, &key, EmptyLeafNode)
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Get returns the leaf node found at the given key within the MS-SMT.
func (t *FullTree) Get(ctx context.Context, key [hashSize]byte) (*LeafNode,
	error) {

	var leaf *LeafNode
	err := t.store.View(ctx, func(tx TreeStoreViewTx) error {
		var err error
		leaf, err = t.walkDown(tx, &key, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return leaf, nil
}

// MerkleProof generates a merkle proof for the leaf node found at the given
// key within the MS-SMT. If a leaf node does not exist at the given key,
// then the returned proof is a non-inclusion proof carrying the empty leaf.
func (t *FullTree) MerkleProof(ctx context.Context, key [hashSize]byte) (
	*Proof, error) {

	nodes := make([]Node, MaxTreeLevels)
	var leaf *LeafNode
	err := t.store.View(ctx, func(tx TreeStoreViewTx) error {
		var err error
		leaf, err = t.walkDown(
			tx, &key, func(i int, _, sibling, _ Node) error {
				nodes[MaxTreeLevels-1-i] = sibling
				return nil
			},
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	return NewProof(nodes, leaf), nil
}

// RetainRoot pins the current root and returns its hash. The pinned root
// remains readable through At until released.
func (t *FullTree) RetainRoot(ctx context.Context) (NodeHash, error) {
	var root NodeHash
	err := t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		rootNode, err := t.rootNode(tx)
		if err != nil {
			return err
		}

		root = rootNode.NodeHash()
		if IsEmptyTreeHash(root) {
			return nil
		}

		return tx.RetainNode(root)
	})
	if err != nil {
		return ZeroNodeHash, err
	}

	return root, nil
}

// ReleaseRoot drops the pin taken out by RetainRoot, allowing the store to
// reclaim any node only reachable from the released root.
func (t *FullTree) ReleaseRoot(ctx context.Context, root NodeHash) error {
	if IsEmptyTreeHash(root) {
		return nil
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.ReleaseNode(root)
	})
}

// DeleteRoot releases the tree's current root.
func (t *FullTree) DeleteRoot(ctx context.Context) error {
	if t.viewRoot != nil {
		return ErrTreeReadOnly
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.DeleteRoot()
	})
}

// DeleteAllNodes deletes all nodes in the MS-SMT, including nodes retained
// by snapshots.
func (t *FullTree) DeleteAllNodes(ctx context.Context) error {
	if t.viewRoot != nil {
		return ErrTreeReadOnly
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.DeleteAllNodes()
	})
}

// CheckSumOverflowUint64 checks if the sum of two uint64 values will
// overflow.
func CheckSumOverflowUint64(a, b uint64) error {
	_, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ErrIntegerOverflow
	}
	return nil
}
