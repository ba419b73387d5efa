package cairndb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cairnlabs/cairn/cairndb/sqlc"
	"github.com/cairnlabs/cairn/mssmt"
)

type (
	// NewBranch is a type alias for the params to create a new mssmt
	// branch node.
	NewBranch = sqlc.UpsertBranchParams

	// NewLeaf is a type alias for the params to create a new mssmt leaf
	// node.
	NewLeaf = sqlc.UpsertLeafParams

	// NewCompactedLeaf is a type alias for the params to create a new
	// mssmt compacted leaf node.
	NewCompactedLeaf = sqlc.UpsertCompactedLeafParams

	// StoredNode is a type alias for an arbitrary child of an mssmt
	// branch.
	StoredNode = sqlc.FetchChildrenRow

	// ChildQuery wraps the args we need to fetch the children of a node.
	ChildQuery = sqlc.FetchChildrenParams

	// NodeRef wraps the args we need to bump or drop a node's reference
	// count.
	NodeRef = sqlc.IncrementNodeRefParams

	// DelNode wraps the args we need to delete a node.
	DelNode = sqlc.DeleteNodeParams
)

// TreeStore is a sub-set of the main sqlc.Querier interface that contains
// only the methods needed to manipulate and query stored MS-SMT trees.
type TreeStore interface {
	// UpsertBranch inserts a new branch to the store, returning the
	// number of rows affected. Inserting content that is already present
	// affects no rows.
	UpsertBranch(ctx context.Context, newNode NewBranch) (int64, error)

	// UpsertLeaf inserts a new leaf to the store.
	UpsertLeaf(ctx context.Context, newNode NewLeaf) (int64, error)

	// UpsertCompactedLeaf inserts a new compacted leaf to the store.
	UpsertCompactedLeaf(ctx context.Context,
		newNode NewCompactedLeaf) (int64, error)

	// IncrementNodeRef bumps the reference count of a stored node,
	// returning the number of rows affected.
	IncrementNodeRef(ctx context.Context, ref NodeRef) (int64, error)

	// DecrementNodeRef drops one reference of a stored node, returning
	// the new reference count along with the node's child pointers.
	DecrementNodeRef(ctx context.Context,
		ref sqlc.DecrementNodeRefParams) (sqlc.DecrementNodeRefRow,
		error)

	// DeleteNode deletes a node (and only the node itself) from the
	// store.
	DeleteNode(ctx context.Context, del DelNode) (int64, error)

	// DeleteAllNodes deletes all nodes in a given namespace.
	DeleteAllNodes(ctx context.Context, namespace string) (int64, error)

	// DeleteRoot deletes the root pointer of a given namespace.
	DeleteRoot(ctx context.Context, namespace string) (int64, error)

	// FetchChildren fetches the children (at most two, but actually the
	// node itself and its children) of the passed branch hash key.
	FetchChildren(ctx context.Context,
		childQuery ChildQuery) ([]StoredNode, error)

	// FetchNode fetches a single node keyed by its hash key.
	FetchNode(ctx context.Context,
		arg sqlc.FetchNodeParams) (sqlc.FetchNodeRow, error)

	// FetchRootNode fetches the root node of the stored tree.
	FetchRootNode(ctx context.Context,
		namespace string) (sqlc.FetchRootNodeRow, error)

	// UpsertRootNode re-points the root pointer of a given namespace.
	UpsertRootNode(ctx context.Context,
		arg sqlc.UpsertRootNodeParams) error
}

// TreeStoreTxOptions defines the set of db txn options the TreeStore
// understands.
type TreeStoreTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (t *TreeStoreTxOptions) ReadOnly() bool {
	return t.readOnly
}

// NewTreeStoreReadTx creates a new read transaction option set.
func NewTreeStoreReadTx() TreeStoreTxOptions {
	return TreeStoreTxOptions{
		readOnly: true,
	}
}

// BatchedTreeStore is a version of the AddrBook that's capable of batched
// database operations.
type BatchedTreeStore interface {
	TreeStore

	BatchedTx[TreeStore]
}

// CairnTreeStore is an persistent MS-SMT implementation backed by a live SQL
// database.
type CairnTreeStore struct {
	db BatchedTreeStore

	namespace string
}

// NewCairnTreeStore creates a new CairnTreeStore instance given an open
// BatchedTreeStore storage backend. The namespace argument carves out a
// distinct tree within the larger store: trees in different namespaces never
// share nodes, even when their content is identical.
func NewCairnTreeStore(db BatchedTreeStore, namespace string) *CairnTreeStore {
	return &CairnTreeStore{
		db:        db,
		namespace: namespace,
	}
}

// A compile-time assertion to make sure CairnTreeStore implements the
// mssmt.TreeStore interface.
var _ mssmt.TreeStore = (*CairnTreeStore)(nil)

// Update updates the persistent tree in the passed update closure using the
// update transaction.
func (t *CairnTreeStore) Update(ctx context.Context,
	update func(tx mssmt.TreeStoreUpdateTx) error) error {

	var writeTx TreeStoreTxOptions
	return t.db.ExecTx(ctx, &writeTx, func(db TreeStore) error {
		updateTx := &treeStoreUpdateTx{
			treeStoreViewTx{
				ctx:       ctx,
				dbTx:      db,
				namespace: t.namespace,
			},
		}
		return update(updateTx)
	})
}

// View gives a view of the persistent tree in the passed view closure using
// the view transaction.
func (t *CairnTreeStore) View(ctx context.Context,
	view func(tx mssmt.TreeStoreViewTx) error) error {

	readTx := NewTreeStoreReadTx()
	return t.db.ExecTx(ctx, &readTx, func(db TreeStore) error {
		viewTx := &treeStoreViewTx{
			ctx:       ctx,
			dbTx:      db,
			namespace: t.namespace,
		}
		return view(viewTx)
	})
}

// treeStoreViewTx is an implementation of the mssmt.TreeStoreViewTx
// interface using a SQL database transaction.
type treeStoreViewTx struct {
	ctx       context.Context
	dbTx      TreeStore
	namespace string
}

// A compile-time assertion to make sure treeStoreViewTx implements the
// mssmt.TreeStoreViewTx interface.
var _ mssmt.TreeStoreViewTx = (*treeStoreViewTx)(nil)

// RootNode returns the current root node of the tree. The empty tree root is
// returned for a tree without any leaves.
func (t *treeStoreViewTx) RootNode() (mssmt.Node, error) {
	row, err := t.dbTx.FetchRootNode(t.ctx, t.namespace)
	switch {
	// If there's no root node yet, then we'll return the empty tree
	// root so the tree above this layer can be created anew.
	case errors.Is(err, sql.ErrNoRows):
		return mssmt.EmptyTree[0], nil

	case err != nil:
		return nil, err
	}

	rootHash, err := newKey(row.HashKey)
	if err != nil {
		return nil, err
	}

	return mssmt.NewComputedBranch(rootHash, uint64(row.Sum)), nil
}

// FetchNode fetches the node with the given hash. Branches are returned in
// computed form.
func (t *treeStoreViewTx) FetchNode(key mssmt.NodeHash) (mssmt.Node, error) {
	row, err := t.dbTx.FetchNode(t.ctx, sqlc.FetchNodeParams{
		HashKey:   key[:],
		Namespace: t.namespace,
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", mssmt.ErrNodeNotFound, key)

	case err != nil:
		return nil, err
	}

	return storedNodeAt(row.LHashKey, row.Key, row.Value, row.Sum, key)
}

// storedNodeAt maps a raw node row back to the node type it was stored as.
// The height of a compacted leaf isn't tracked in the store, so compacted
// leaves fetched directly by hash surface as computed nodes, which is
// sufficient for hash and sum queries against arbitrary hashes.
func storedNodeAt(lHashKey, key, value []byte, sum int64,
	hashKey mssmt.NodeHash) (mssmt.Node, error) {

	switch {
	case lHashKey != nil:
		return mssmt.NewComputedBranch(hashKey, uint64(sum)), nil

	case key != nil:
		return mssmt.NewComputedNode(hashKey, uint64(sum)), nil

	default:
		return mssmt.NewLeafNode(value, uint64(sum)), nil
	}
}

// GetChildren returns the left and right child of the branch at the given
// height keyed by the given hash.
func (t *treeStoreViewTx) GetChildren(height int, key mssmt.NodeHash) (
	mssmt.Node, mssmt.Node, error) {

	// A branch with an empty hash at any level just resolves to the two
	// empty sentinels one level below, nothing is stored for those.
	if mssmt.IsEmptyTreeHash(key) {
		return mssmt.EmptyTree[height+1], mssmt.EmptyTree[height+1],
			nil
	}

	rows, err := t.dbTx.FetchChildren(t.ctx, ChildQuery{
		HashKey:   key[:],
		Namespace: t.namespace,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: branch %v",
			mssmt.ErrNodeNotFound, key)
	}

	// The first row of the query result is the branch itself, which
	// tells us the hash keys of the two children we're after.
	branch := rows[0]
	if branch.LHashKey == nil || branch.RHashKey == nil {
		return nil, nil, fmt.Errorf("node %v at height %d is not a "+
			"branch", key, height)
	}

	lHashKey, err := newKey(branch.LHashKey)
	if err != nil {
		return nil, nil, err
	}
	rHashKey, err := newKey(branch.RHashKey)
	if err != nil {
		return nil, nil, err
	}

	// Children that resolve to empty subtrees don't have stored rows, so
	// we start with the sentinels and overwrite them with whatever the
	// query did return.
	left := mssmt.Node(mssmt.EmptyTree[height+1])
	right := mssmt.Node(mssmt.EmptyTree[height+1])
	for _, row := range rows[1:] {
		child, err := childNodeAt(row, height+1)
		if err != nil {
			return nil, nil, err
		}

		// Both checks run, since two sibling subtrees with identical
		// content share a single stored row.
		childHash := child.NodeHash()
		if childHash == lHashKey {
			left = child
		}
		if childHash == rHashKey {
			right = child
		}
	}

	return left, right, nil
}

// childNodeAt maps a child row of a FetchChildren query to the node type it
// was stored as, at the given height.
func childNodeAt(row StoredNode, height int) (mssmt.Node, error) {
	hashKey, err := newKey(row.HashKey)
	if err != nil {
		return nil, err
	}

	// A row without child pointers is one of the two leaf types.
	if row.LHashKey == nil && row.RHashKey == nil {
		leaf := mssmt.NewLeafNode(row.Value, uint64(row.Sum))

		// Compacted leaves carry their insertion key, which lets us
		// restore the full subtree commitment they stand in for.
		if row.Key != nil {
			key, err := newKey(row.Key)
			if err != nil {
				return nil, err
			}

			node := mssmt.NewCompactedLeafNode(height, &key, leaf)

			// Precompute the node's hash so it matches the stored
			// hash key rather than the bare leaf hash.
			node.NodeHash()
			return node, nil
		}

		return leaf, nil
	}

	return mssmt.NewComputedBranch(hashKey, uint64(row.Sum)), nil
}

// treeStoreUpdateTx is an implementation of the mssmt.TreeStoreUpdateTx
// interface using a SQL database transaction.
type treeStoreUpdateTx struct {
	treeStoreViewTx
}

// A compile-time assertion to make sure treeStoreUpdateTx implements the
// mssmt.TreeStoreUpdateTx interface.
var _ mssmt.TreeStoreUpdateTx = (*treeStoreUpdateTx)(nil)

// InsertBranch stores a new branch keyed by its NodeHash. If the branch
// wasn't present yet, one reference is taken out on each of its non-empty
// children.
func (t *treeStoreUpdateTx) InsertBranch(branch *mssmt.BranchNode) error {
	hashKey := branch.NodeHash()
	lHashKey := branch.Left.NodeHash()
	rHashKey := branch.Right.NodeHash()

	numRows, err := t.dbTx.UpsertBranch(t.ctx, NewBranch{
		HashKey:   hashKey[:],
		LHashKey:  lHashKey[:],
		RHashKey:  rHashKey[:],
		Sum:       int64(branch.NodeSum()),
		Namespace: t.namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to insert branch: %w", err)
	}

	// The branch was already stored, so its children already carry the
	// references this branch holds on them.
	if numRows == 0 {
		return nil
	}

	if err := t.retain(lHashKey); err != nil {
		return err
	}

	return t.retain(rHashKey)
}

// InsertLeaf stores a new leaf keyed by its NodeHash (not the insertion
// key).
func (t *treeStoreUpdateTx) InsertLeaf(leaf *mssmt.LeafNode) error {
	hashKey := leaf.NodeHash()

	_, err := t.dbTx.UpsertLeaf(t.ctx, NewLeaf{
		HashKey:   hashKey[:],
		Value:     leaf.Value,
		Sum:       int64(leaf.NodeSum()),
		Namespace: t.namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to insert leaf: %w", err)
	}

	return nil
}

// InsertCompactedLeaf stores a new compacted leaf keyed by its NodeHash
// (not the insertion key).
func (t *treeStoreUpdateTx) InsertCompactedLeaf(
	leaf *mssmt.CompactedLeafNode) error {

	hashKey := leaf.NodeHash()
	key := leaf.Key()

	_, err := t.dbTx.UpsertCompactedLeaf(t.ctx, NewCompactedLeaf{
		HashKey:   hashKey[:],
		Key:       key[:],
		Value:     leaf.Value,
		Sum:       int64(leaf.NodeSum()),
		Namespace: t.namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to insert compacted leaf: %w", err)
	}

	return nil
}

// retain increments the reference count of the node with the given hash.
// Empty sentinels are never stored and carry no counts.
func (t *treeStoreUpdateTx) retain(key mssmt.NodeHash) error {
	if mssmt.IsEmptyTreeHash(key) {
		return nil
	}

	numRows, err := t.dbTx.IncrementNodeRef(t.ctx, NodeRef{
		HashKey:   key[:],
		Namespace: t.namespace,
	})
	if err != nil {
		return err
	}
	if numRows == 0 {
		return fmt.Errorf("%w: cannot reference %v",
			mssmt.ErrNodeNotFound, key)
	}

	return nil
}

// RetainNode takes out an additional reference on the node with the given
// hash, pinning it (and transitively its subtree) until a matching
// ReleaseNode call.
func (t *treeStoreUpdateTx) RetainNode(key mssmt.NodeHash) error {
	return t.retain(key)
}

// ReleaseNode gives up one reference on the node with the given hash,
// reclaiming it and cascading into its children once unreferenced.
func (t *treeStoreUpdateTx) ReleaseNode(key mssmt.NodeHash) error {
	stack := []mssmt.NodeHash{key}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if mssmt.IsEmptyTreeHash(current) {
			continue
		}

		row, err := t.dbTx.DecrementNodeRef(
			t.ctx, sqlc.DecrementNodeRefParams{
				HashKey:   current[:],
				Namespace: t.namespace,
			},
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: cannot release %v",
				mssmt.ErrNodeNotFound, current)

		case err != nil:
			return err
		}

		if row.RefCount > 0 {
			continue
		}

		_, err = t.dbTx.DeleteNode(t.ctx, DelNode{
			HashKey:   current[:],
			Namespace: t.namespace,
		})
		if err != nil {
			return err
		}

		// Branch children give up the reference the deleted branch
		// held on them.
		if row.LHashKey != nil {
			lHashKey, err := newKey(row.LHashKey)
			if err != nil {
				return err
			}
			stack = append(stack, lHashKey)
		}
		if row.RHashKey != nil {
			rHashKey, err := newKey(row.RHashKey)
			if err != nil {
				return err
			}
			stack = append(stack, rHashKey)
		}
	}

	return nil
}

// UpdateRoot re-points the tree at the given root branch, taking out the
// root pin on it. Releasing the previous root is the caller's
// responsibility.
func (t *treeStoreUpdateTx) UpdateRoot(rootNode *mssmt.BranchNode) error {
	rootHash := rootNode.NodeHash()

	// A tree deleted down to emptiness has no stored root, so the
	// pointer row is simply removed.
	if mssmt.IsEmptyTreeHash(rootHash) {
		_, err := t.dbTx.DeleteRoot(t.ctx, t.namespace)
		return err
	}

	if err := t.retain(rootHash); err != nil {
		return err
	}

	return t.dbTx.UpsertRootNode(t.ctx, sqlc.UpsertRootNodeParams{
		Namespace: t.namespace,
		RootHash:  rootHash[:],
	})
}

// DeleteRoot releases the current root pin and clears the root pointer.
func (t *treeStoreUpdateTx) DeleteRoot() error {
	row, err := t.dbTx.FetchRootNode(t.ctx, t.namespace)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil

	case err != nil:
		return err
	}

	rootHash, err := newKey(row.HashKey)
	if err != nil {
		return err
	}

	_, err = t.dbTx.DeleteRoot(t.ctx, t.namespace)
	if err != nil {
		return err
	}

	return t.ReleaseNode(rootHash)
}

// DeleteAllNodes deletes all nodes of the tree, including nodes only
// reachable from retained snapshot roots.
func (t *treeStoreUpdateTx) DeleteAllNodes() error {
	_, err := t.dbTx.DeleteRoot(t.ctx, t.namespace)
	if err != nil {
		return err
	}

	_, err = t.dbTx.DeleteAllNodes(t.ctx, t.namespace)
	return err
}

// newKey casts a byte slice of the proper length to a node hash.
func newKey(data []byte) ([32]byte, error) {
	var key [32]byte

	if len(data) != 32 {
		return key, fmt.Errorf("invalid key size: %d", len(data))
	}

	copy(key[:], data)
	return key, nil
}
