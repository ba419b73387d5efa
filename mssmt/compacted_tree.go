package mssmt

import (
	"context"
	"fmt"
)

// CompactedTree represents a compacted Merkle-Sum Sparse Merkle Tree
// (MS-SMT). The tree has the same properties as a normal MS-SMT tree and is
// able to create the same proofs and same root as the FullTree implemented
// in this package. The additional benefit of using the CompactedTree is that
// it will greatly reduce storage access, resulting in more performant access
// when used for large trees: any subtree holding a single leaf is collapsed
// into one compacted leaf node instead of a path of branches.
type CompactedTree struct {
	store TreeStore

	// viewRoot, when set, fixes this tree to a read-only view of the
	// given retained root.
	viewRoot *NodeHash
}

var _ Tree = (*CompactedTree)(nil)

// NewCompactedTree initializes an empty MS-SMT backed by `store`.
func NewCompactedTree(store TreeStore) *CompactedTree {
	return &CompactedTree{
		store: store,
	}
}

// At returns a read-only view of the tree at the given retained root.
func (t *CompactedTree) At(root NodeHash) *CompactedTree {
	return &CompactedTree{
		store:    t.store,
		viewRoot: &root,
	}
}

// rootNode resolves the node this tree reads from.
func (t *CompactedTree) rootNode(tx TreeStoreViewTx) (*BranchNode, error) {
	var (
		root Node
		err  error
	)
	switch {
	case t.viewRoot == nil:
		root, err = tx.RootNode()

	case IsEmptyTreeHash(*t.viewRoot):
		root = EmptyTree[0]

	default:
		root, err = tx.FetchNode(*t.viewRoot)
	}
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

// Root returns the root node of the MS-SMT.
func (t *CompactedTree) Root(ctx context.Context) (*BranchNode, error) {
	var root *BranchNode
	err := t.store.View(ctx, func(tx TreeStoreViewTx) error {
		var err error
		root, err = t.rootNode(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return root, nil
}

// stepOrder orders the passed nodes as children of a branch at the given
// height according to the key's bit at that height.
func stepOrder(height int, key *[hashSize]byte, left, right Node) (Node,
	Node) {

	if bitIndex(uint8(height), key) == 0 {
		return left, right
	}

	return right, left
}

// walkDown walks down the tree from the root node to the leaf indexed by
// `key`. Compacted leaves encountered on the way down are materialized so
// the walk always observes the full 256 logical levels.
func (t *CompactedTree) walkDown(tx TreeStoreViewTx, key *[hashSize]byte,
	iter iterFunc) (*LeafNode, error) {

	var current Node
	current, err := t.rootNode(tx)
	if err != nil {
		return nil, err
	}

	for i := 0; i <= lastBitIndex; i++ {
		left, right, err := tx.GetChildren(i, current.NodeHash())
		if err != nil {
			return nil, err
		}
		next, sibling := stepOrder(i, key, left, right)

		switch node := next.(type) {
		case *CompactedLeafNode:
			// Our next node is a compacted leaf. Expand it so we
			// can continue our walk down the tree.
			next = node.Extract(i)

			// The sibling might be a compacted leaf too, in which
			// case it needs to be extracted as well.
			if compSibling, ok :=
				sibling.(*CompactedLeafNode); ok {

				sibling = compSibling.Extract(i)
			}

			// Now that the missing branches are materialized we
			// can continue the search for the leaf matching the
			// passed key.
			for j := i; j <= lastBitIndex; j++ {
				if iter != nil {
					err := iter(j, next, sibling, current)
					if err != nil {
						return nil, err
					}
				}
				current = next

				if j < lastBitIndex {
					branch, ok := current.(*BranchNode)
					if !ok {
						return nil, fmt.Errorf(
							"expected branch at "+
								"height %d",
							j+1)
					}
					next, sibling = stepOrder(
						j+1, key, branch.Left,
						branch.Right,
					)
				}
			}

			leaf, ok := current.(*LeafNode)
			if !ok {
				return nil, fmt.Errorf("node at leaf level "+
					"is a %T, not a leaf", current)
			}

			return leaf, nil

		default:
			if iter != nil {
				err := iter(i, next, sibling, current)
				if err != nil {
					return nil, err
				}
			}
			current = next
		}
	}

	leaf, ok := current.(*LeafNode)
	if !ok {
		return nil, fmt.Errorf("node at leaf level is a %T, not a "+
			"leaf", current)
	}

	return leaf, nil
}

// merge builds the common subtree for two leaves lying on the same partial
// path. The resulting subtree holds branch nodes from the diverging bit of
// the two keys down to the two new compacted leaves.
func (t *CompactedTree) merge(tx TreeStoreUpdateTx, height int,
	key1 [hashSize]byte, leaf1 *LeafNode, key2 [hashSize]byte,
	leaf2 *LeafNode) (*BranchNode, error) {

	// Find the common prefix first.
	var commonPrefixLen int
	for i := 0; i <= lastBitIndex; i++ {
		if bitIndex(uint8(i), &key1) == bitIndex(uint8(i), &key2) {
			commonPrefixLen++
		} else {
			break
		}
	}

	// Now we create two compacted leaves and insert them as children of
	// a newly created branch.
	node1 := NewCompactedLeafNode(commonPrefixLen+1, &key1, leaf1)
	node2 := NewCompactedLeafNode(commonPrefixLen+1, &key2, leaf2)
	if err := tx.InsertCompactedLeaf(node1); err != nil {
		return nil, err
	}
	if err := tx.InsertCompactedLeaf(node2); err != nil {
		return nil, err
	}

	left, right := stepOrder(commonPrefixLen, &key1, node1, node2)
	parent := NewBranch(left, right)
	if err := tx.InsertBranch(parent); err != nil {
		return nil, err
	}

	// From here we'll walk up to the requested height and create
	// branches along the way.
	for i := commonPrefixLen - 1; i >= height; i-- {
		left, right := stepOrder(i, &key1, parent, EmptyTree[i+1])
		parent = NewBranch(left, right)
		if err := tx.InsertBranch(parent); err != nil {
			return nil, err
		}
	}

	return parent, nil
}

// promoteLeaf lifts a compacted leaf whose sibling collapsed to an empty
// subtree one level up. The lifted leaf commits to exactly the same content
// as the one-child branch it replaces, so the tree keeps the physical shape
// of a freshly built one. The caller stores the leaf once it is anchored
// under a stored branch.
func promoteLeaf(height int, newNode, sibling Node) (*CompactedLeafNode,
	bool) {

	lift := func(node, other Node) (*CompactedLeafNode, bool) {
		compacted, ok := node.(*CompactedLeafNode)
		if !ok || !IsEmptyTreeHash(other.NodeHash()) {
			return nil, false
		}

		key := compacted.Key()
		return NewCompactedLeafNode(height, &key,
			compacted.LeafNode), true
	}

	if promoted, ok := lift(newNode, sibling); ok {
		return promoted, true
	}

	return lift(sibling, newNode)
}

// insert inserts the key at the current height, either by adding a new
// compacted leaf, merging an existing leaf with the passed leaf into a new
// subtree, or by recursing down further. The returned node replaces `root`
// at this height and is either a branch or a compacted leaf promoted out of
// a subtree that a deletion reduced to a single leaf; `root` itself is
// returned unchanged when the mutation is a no-op.
func (t *CompactedTree) insert(tx TreeStoreUpdateTx, key *[hashSize]byte,
	height int, root *BranchNode, leaf *LeafNode) (Node, error) {

	left, right, err := tx.GetChildren(height, root.NodeHash())
	if err != nil {
		return nil, err
	}

	isLeft := bitIndex(uint8(height), key) == 0
	var next, sibling Node
	if isLeft {
		next, sibling = left, right
	} else {
		next, sibling = right, left
	}

	nextHeight := height + 1

	var newNode Node
	switch node := next.(type) {
	case *BranchNode:
		if IsEmptyTreeHash(node.NodeHash()) {
			// Deleting a key under an empty subtree changes
			// nothing.
			if leaf.IsEmpty() {
				return root, nil
			}

			// The whole subtree is empty, so the new leaf can
			// replace it as a single compacted leaf.
			newNode = NewCompactedLeafNode(nextHeight, key, leaf)
		} else {
			// Not an empty subtree, recurse down the tree to find
			// the insertion point for the leaf.
			updated, err := t.insert(
				tx, key, nextHeight, node, leaf,
			)
			if err != nil {
				return nil, err
			}

			// The subtree absorbed the mutation without changing,
			// so this level doesn't change either.
			if IsEqualNode(updated, node) {
				return root, nil
			}
			newNode = updated
		}

	case *CompactedLeafNode:
		switch {
		// The compacted leaf sits exactly at our key.
		case *key == node.Key():
			switch {
			case leaf.IsEmpty():
				newNode = EmptyTree[nextHeight]

			case IsEqualNode(node.LeafNode, leaf):
				// Same leaf re-inserted, nothing to do.
				return root, nil

			default:
				newNode = NewCompactedLeafNode(
					nextHeight, key, leaf,
				)
			}

		// Deleting a key the compacted subtree doesn't commit to.
		case leaf.IsEmpty():
			return root, nil

		default:
			// Merge the two leaves into a subtree rooted at this
			// level.
			newNode, err = t.merge(
				tx, nextHeight, *key, leaf, node.Key(),
				node.LeafNode,
			)
			if err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("unexpected node type %T at height "+
			"%d", next, height)
	}

	err = CheckSumOverflowUint64(newNode.NodeSum(), sibling.NodeSum())
	if err != nil {
		return nil, fmt.Errorf("branch sum at height %d: %w", height,
			err)
	}

	// A deletion that emptied one side of this level leaves a lone
	// single-leaf subtree below it. Hand the promoted leaf up instead of
	// storing a chain of one-child branches, so content-addressed
	// insertion never skips referencing a branch another root already
	// stores in compacted form. The root level always keeps its branch.
	if height > 0 {
		if promoted, ok := promoteLeaf(height, newNode, sibling); ok {
			return promoted, nil
		}
	}

	// Create the new branch for this level.
	var branch *BranchNode
	if isLeft {
		branch = NewBranch(newNode, sibling)
	} else {
		branch = NewBranch(sibling, newNode)
	}

	// Both children collapsed into empty subtrees, so the branch itself
	// is one and is represented implicitly.
	if IsEmptyTreeHash(branch.NodeHash()) {
		return EmptyTree[height], nil
	}

	// Compacted leaves are stored once they end up anchored under a
	// stored branch. Insertion is content addressed, so re-anchoring a
	// leaf that is already present changes nothing.
	if compacted, ok := newNode.(*CompactedLeafNode); ok {
		if err := tx.InsertCompactedLeaf(compacted); err != nil {
			return nil, err
		}
	}

	if err := tx.InsertBranch(branch); err != nil {
		return nil, err
	}

	return branch, nil
}

// replaceLeaf runs the full copy-on-write mutation cycle: insert the new
// nodes, re-point the root, release the previous root.
func (t *CompactedTree) replaceLeaf(tx TreeStoreUpdateTx,
	key *[hashSize]byte, leaf *LeafNode) error {

	prevRoot, err := t.rootNode(tx)
	if err != nil {
		return err
	}
	prevHash := prevRoot.NodeHash()

	// The new root sum swaps the displaced leaf's contribution for the
	// new leaf's, and must stay within the 64-bit range.
	existing, err := t.walkDown(tx, key, nil)
	if err != nil {
		return err
	}
	remainder := prevRoot.NodeSum() - existing.NodeSum()
	err = CheckSumOverflowUint64(remainder, leaf.NodeSum())
	if err != nil {
		return fmt.Errorf("leaf insert sum overflow, tree: %d, "+
			"leaf: %d; %w", remainder, leaf.NodeSum(), err)
	}

	newRoot, err := t.insert(tx, key, 0, prevRoot, leaf)
	if err != nil {
		return err
	}

	if newRoot.NodeHash() == prevHash {
		return nil
	}

	// Leaf promotion stops above the root level, so the result of a
	// root level insert is always a branch.
	rootBranch, ok := newRoot.(*BranchNode)
	if !ok {
		return fmt.Errorf("root is a %T, not a branch", newRoot)
	}

	if err := tx.UpdateRoot(rootBranch); err != nil {
		return err
	}

	if !IsEmptyTreeHash(prevHash) {
		return tx.ReleaseNode(prevHash)
	}

	return nil
}

// Insert inserts a leaf node at the given key within the MS-SMT.
func (t *CompactedTree) Insert(ctx context.Context, key [hashSize]byte,
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
func (t *CompactedTree) Delete(ctx context.Context, key [hashSize]byte) (
	Tree, error) {

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
func (t *CompactedTree) Get(ctx context.Context, key [hashSize]byte) (
	*LeafNode, error) {

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
func (t *CompactedTree) MerkleProof(ctx context.Context,
	key [hashSize]byte) (*Proof, error) {

	nodes := make([]Node, MaxTreeLevels)
	var leaf *LeafNode
	err := t.store.View(ctx, func(tx TreeStoreViewTx) error {
		var err error
		leaf, err = t.walkDown(
			tx, &key, func(i int, _, sibling, _ Node) error {
				// Force computation of the sibling's hash
				// while the materialized subtree is still in
				// scope.
				sibling.NodeHash()
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

// RetainRoot pins the current root and returns its hash.
func (t *CompactedTree) RetainRoot(ctx context.Context) (NodeHash, error) {
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

// ReleaseRoot drops the pin taken out by RetainRoot.
func (t *CompactedTree) ReleaseRoot(ctx context.Context,
	root NodeHash) error {

	if IsEmptyTreeHash(root) {
		return nil
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.ReleaseNode(root)
	})
}

// DeleteRoot releases the tree's current root.
func (t *CompactedTree) DeleteRoot(ctx context.Context) error {
	if t.viewRoot != nil {
		return ErrTreeReadOnly
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.DeleteRoot()
	})
}

// DeleteAllNodes deletes all nodes in the MS-SMT.
func (t *CompactedTree) DeleteAllNodes(ctx context.Context) error {
	if t.viewRoot != nil {
		return ErrTreeReadOnly
	}

	return t.store.Update(ctx, func(tx TreeStoreUpdateTx) error {
		return tx.DeleteAllNodes()
	})
}
