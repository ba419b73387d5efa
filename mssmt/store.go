package mssmt

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNodeNotFound is returned when a node's hash is not present in
	// the store. This is an integrity error when it happens on a path
	// reachable from a live root, but an expected result when probing
	// speculative hashes through FetchNode.
	ErrNodeNotFound = errors.New("mssmt: node not found")
)

// TreeStoreViewTx is a read-only transaction on a tree store.
type TreeStoreViewTx interface {
	// RootNode returns the current root node of the tree. The empty
	// tree root is returned for a tree without any leaves.
	RootNode() (Node, error)

	// FetchNode fetches the node with the given hash. Branches are
	// returned in computed form. ErrNodeNotFound is returned for
	// unknown hashes.
	FetchNode(NodeHash) (Node, error)

	// GetChildren returns the left and right child of the branch at the
	// given height keyed by the given hash.
	GetChildren(int, NodeHash) (Node, Node, error)
}

// TreeStoreUpdateTx is a read-write transaction on a tree store. All node
// insertions are content-addressed get-or-create operations: re-inserting
// identical content neither duplicates storage nor skews reference counts.
//
// A stored node's reference count is the number of stored parents
// referencing it plus any explicit pins (the current root pointer and
// retained snapshot roots). Inserting a branch that was not yet present
// takes out one reference on each of its non-empty children.
type TreeStoreUpdateTx interface {
	TreeStoreViewTx

	// InsertBranch stores a new branch keyed by its NodeHash.
	InsertBranch(*BranchNode) error

	// InsertLeaf stores a new leaf keyed by its NodeHash (not the
	// insertion key).
	InsertLeaf(*LeafNode) error

	// InsertCompactedLeaf stores a new compacted leaf keyed by its
	// NodeHash (not the insertion key).
	InsertCompactedLeaf(*CompactedLeafNode) error

	// RetainNode takes out an additional reference on the node with the
	// given hash, pinning it (and transitively its subtree) until a
	// matching ReleaseNode call.
	RetainNode(NodeHash) error

	// ReleaseNode gives up one reference on the node with the given
	// hash. A node whose reference count drops to zero is reclaimed,
	// cascading the release into its children.
	ReleaseNode(NodeHash) error

	// UpdateRoot re-points the tree at the given root branch, taking
	// out the root pin on it. Releasing the previous root is the
	// caller's responsibility.
	UpdateRoot(*BranchNode) error

	// DeleteRoot releases the current root pin and clears the root
	// pointer.
	DeleteRoot() error

	// DeleteAllNodes deletes all nodes of the tree, including nodes
	// only reachable from retained snapshot roots.
	DeleteAllNodes() error
}

// TreeStore represents a generic transactional store for the nodes of a
// MS-SMT. Stored nodes are immutable: all mutation happens by inserting
// nodes under new hashes and releasing old ones, which is what allows
// multiple roots to share subtrees.
type TreeStore interface {
	// Update executes the passed closure in a read-write transaction.
	Update(context.Context, func(tx TreeStoreUpdateTx) error) error

	// View executes the passed closure in a read-only transaction.
	View(context.Context, func(tx TreeStoreViewTx) error) error
}

// storedNode pairs a stored node with its reference count.
type storedNode struct {
	node Node
	refs int
}

// MemoryStore is an in-memory implementation of the TreeStore interface.
//
// Writes applied before a failed update closure are not rolled back, which
// mirrors the fact that the tree engine treats store failures as fatal for
// the in-flight operation.
type MemoryStore struct {
	mtx sync.RWMutex

	nodes map[NodeHash]*storedNode

	// root is the hash of the current root branch, nil for an empty
	// tree.
	root *NodeHash
}

var _ TreeStore = (*MemoryStore)(nil)

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeHash]*storedNode),
	}
}

// NumNodes returns the number of nodes currently stored.
func (s *MemoryStore) NumNodes() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return len(s.nodes)
}

// Update executes the passed closure in a read-write transaction.
func (s *MemoryStore) Update(_ context.Context,
	update func(tx TreeStoreUpdateTx) error) error {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return update(&memoryTx{store: s})
}

// View executes the passed closure in a read-only transaction.
func (s *MemoryStore) View(_ context.Context,
	view func(tx TreeStoreViewTx) error) error {

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return view(&memoryTx{store: s})
}

// memoryTx implements both the view and update transactions over a
// MemoryStore. The store's mutex is held for the lifetime of the
// transaction.
type memoryTx struct {
	store *MemoryStore
}

var _ TreeStoreUpdateTx = (*memoryTx)(nil)

// RootNode returns the current root node of the tree.
func (t *memoryTx) RootNode() (Node, error) {
	if t.store.root == nil {
		return EmptyTree[0], nil
	}

	entry, ok := t.store.nodes[*t.store.root]
	if !ok {
		return nil, fmt.Errorf("%w: root %v", ErrNodeNotFound,
			*t.store.root)
	}

	return entry.node, nil
}

// FetchNode fetches the node with the given hash.
func (t *memoryTx) FetchNode(key NodeHash) (Node, error) {
	entry, ok := t.store.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotFound, key)
	}

	return entry.node, nil
}

// fetchNodeAt resolves a node hash at the given height, mapping empty
// sentinel hashes to their shared singletons.
func (t *memoryTx) fetchNodeAt(height int, key NodeHash) (Node, error) {
	if key == EmptyTree[height].NodeHash() {
		return EmptyTree[height], nil
	}

	return t.FetchNode(key)
}

// GetChildren returns the left and right child of the branch at the given
// height keyed by the given hash.
func (t *memoryTx) GetChildren(height int, key NodeHash) (Node, Node,
	error) {

	node, err := t.fetchNodeAt(height, key)
	if err != nil {
		return nil, nil, err
	}

	branch, ok := node.(*BranchNode)
	if !ok {
		return nil, nil, fmt.Errorf("node %v at height %d is not a "+
			"branch", key, height)
	}

	left, err := t.fetchNodeAt(height+1, branch.Left.NodeHash())
	if err != nil {
		return nil, nil, err
	}
	right, err := t.fetchNodeAt(height+1, branch.Right.NodeHash())
	if err != nil {
		return nil, nil, err
	}

	return left, right, nil
}

// insertNode stores the node under its hash if not yet present, reporting
// whether a new entry was created.
func (t *memoryTx) insertNode(node Node) bool {
	key := node.NodeHash()
	if _, ok := t.store.nodes[key]; ok {
		return false
	}

	t.store.nodes[key] = &storedNode{node: node.Copy()}
	return true
}

// retain increments the reference count of the node with the given hash.
// Empty sentinels are never stored and carry no counts.
func (t *memoryTx) retain(key NodeHash) error {
	if IsEmptyTreeHash(key) {
		return nil
	}

	entry, ok := t.store.nodes[key]
	if !ok {
		return fmt.Errorf("%w: cannot reference %v",
			ErrNodeNotFound, key)
	}
	entry.refs++

	return nil
}

// InsertBranch stores a new branch keyed by its NodeHash. If the branch
// was not yet present, one reference is taken out on each of its non-empty
// children.
func (t *memoryTx) InsertBranch(branch *BranchNode) error {
	if !t.insertNode(branch) {
		return nil
	}

	if err := t.retain(branch.Left.NodeHash()); err != nil {
		return err
	}

	return t.retain(branch.Right.NodeHash())
}

// InsertLeaf stores a new leaf keyed by its NodeHash.
func (t *memoryTx) InsertLeaf(leaf *LeafNode) error {
	t.insertNode(leaf)
	return nil
}

// InsertCompactedLeaf stores a new compacted leaf keyed by its NodeHash.
func (t *memoryTx) InsertCompactedLeaf(leaf *CompactedLeafNode) error {
	t.insertNode(leaf)
	return nil
}

// RetainNode takes out an additional reference on the node with the given
// hash.
func (t *memoryTx) RetainNode(key NodeHash) error {
	return t.retain(key)
}

// ReleaseNode gives up one reference on the node with the given hash,
// reclaiming it and cascading into its children once unreferenced.
func (t *memoryTx) ReleaseNode(key NodeHash) error {
	stack := []NodeHash{key}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if IsEmptyTreeHash(current) {
			continue
		}

		entry, ok := t.store.nodes[current]
		if !ok {
			return fmt.Errorf("%w: cannot release %v",
				ErrNodeNotFound, current)
		}

		entry.refs--
		if entry.refs > 0 {
			continue
		}

		delete(t.store.nodes, current)

		if branch, ok := entry.node.(*BranchNode); ok {
			stack = append(
				stack, branch.Left.NodeHash(),
				branch.Right.NodeHash(),
			)
		}
	}

	return nil
}

// UpdateRoot re-points the tree at the given root branch.
func (t *memoryTx) UpdateRoot(root *BranchNode) error {
	rootHash := root.NodeHash()

	// A tree deleted down to emptiness has no stored root, so the
	// pointer is simply cleared.
	if IsEmptyTreeHash(rootHash) {
		t.store.root = nil
		return nil
	}

	if err := t.retain(rootHash); err != nil {
		return err
	}

	t.store.root = &rootHash
	return nil
}

// DeleteRoot releases the current root pin and clears the root pointer.
func (t *memoryTx) DeleteRoot() error {
	if t.store.root == nil {
		return nil
	}

	rootHash := *t.store.root
	t.store.root = nil

	return t.ReleaseNode(rootHash)
}

// DeleteAllNodes deletes all nodes of the tree.
func (t *memoryTx) DeleteAllNodes() error {
	t.store.nodes = make(map[NodeHash]*storedNode)
	t.store.root = nil
	return nil
}
