package mssmt

import (
	"context"
	"math"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func randKey() [hashSize]byte {
	var key [hashSize]byte
	_, _ = rand.Read(key[:])
	return key
}

func randLeaf() *LeafNode {
	valueLen := rand.Intn(math.MaxUint8) + 1
	value := make([]byte, valueLen)
	_, _ = rand.Read(value[:])
	sum := rand.Uint64() % math.MaxUint32
	return NewLeafNode(value, sum)
}

type treeLeaf struct {
	key  [hashSize]byte
	leaf *LeafNode
}

func randTree(numLeaves int) []treeLeaf {
	leaves := make([]treeLeaf, numLeaves)
	for i := 0; i < numLeaves; i++ {
		leaves[i] = treeLeaf{
			key:  randKey(),
			leaf: randLeaf(),
		}
	}
	return leaves
}

func genTreeFromRange(numLeaves int) []treeLeaf {
	leaves := make([]treeLeaf, numLeaves)
	for i := 0; i < numLeaves; i++ {
		var key [32]byte
		big.NewInt(int64(i)).FillBytes(key[:])

		leaves[i] = treeLeaf{
			key:  key,
			leaf: randLeaf(),
		}
	}

	return leaves
}

func treeRoot(t *testing.T, tree Tree) *BranchNode {
	t.Helper()

	root, err := tree.Root(context.TODO())
	require.NoError(t, err)
	return root
}

// testInsertion asserts that we can insert N leaves and retrieve them by
// their insertion key. Keys that do not exist within the tree should return
// an empty leaf.
func testInsertion(t *testing.T, leaves []treeLeaf, tree Tree) {
	ctx := context.TODO()
	for _, item := range leaves {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	for _, item := range leaves {
		// The leaf was already inserted into the tree above, so verify
		// that we're able to look it up again.
		leafCopy, err := tree.Get(ctx, item.key)
		require.NoError(t, err)
		require.Equal(t, item.leaf, leafCopy)
	}

	// Finally verify that we're able to look up a random key (resulting
	// in the default empty leaf).
	emptyLeaf, err := tree.Get(ctx, randKey())
	require.NoError(t, err)
	require.True(t, emptyLeaf.IsEmpty())
}

func TestInsertion(t *testing.T) {
	t.Parallel()

	leaves := randTree(1000)

	t.Run("full SMT", func(t *testing.T) {
		store := NewMemoryStore()
		tree := NewFullTree(store)

		testInsertion(t, leaves, tree)
		t.Logf("full SMT: nodes=%v\n", store.NumNodes())
	})

	t.Run("smol SMT", func(t *testing.T) {
		store := NewMemoryStore()
		smolTree := NewCompactedTree(store)

		testInsertion(t, leaves, smolTree)
		t.Logf("smol SMT: nodes=%v\n", store.NumNodes())
	})
}

// TestReplaceWithEmptyBranch tests that a compacted tree won't keep default
// branches around when whole subtrees are deleted.
func TestReplaceWithEmptyBranch(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	tree := NewCompactedTree(store)

	// Generate a tree of this shape:
	//           R
	//          / \
	//         B   1
	//        / \
	//       4   2
	keys := [][32]byte{
		{1}, {2}, {4},
	}

	ctx := context.TODO()
	for _, key := range keys {
		_, err := tree.Insert(ctx, key, randLeaf())
		require.NoError(t, err)
	}

	// Make sure the store has all our leaves and branches: the root, the
	// inner branch and three compacted leaves.
	require.Equal(t, 5, store.NumNodes())

	// Now delete compacted leaves 2 and 4, which collapses their whole
	// subtree into an implicit empty branch.
	_, err := tree.Delete(ctx, keys[1])
	require.NoError(t, err)
	_, err = tree.Delete(ctx, keys[2])
	require.NoError(t, err)

	// We expect that the store only has the root branch and the single
	// remaining compacted leaf left.
	require.Equal(t, 2, store.NumNodes())
}

// TestReplace tests that replacing keys works as expected.
func TestReplace(t *testing.T) {
	t.Parallel()

	const numLeaves = 500

	leaves1 := genTreeFromRange(numLeaves)
	leaves2 := genTreeFromRange(numLeaves)

	testUpdate := func(tree Tree) {
		ctx := context.TODO()
		for _, item := range leaves1 {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		for _, item := range leaves1 {
			leafCopy, err := tree.Get(ctx, item.key)
			require.NoError(t, err)
			require.Equal(t, item.leaf, leafCopy)
		}

		for _, item := range leaves2 {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		for _, item := range leaves2 {
			leafCopy, err := tree.Get(ctx, item.key)
			require.NoError(t, err)
			require.Equal(t, item.leaf, leafCopy)
		}
	}

	t.Run("full SMT", func(t *testing.T) {
		testUpdate(NewFullTree(NewMemoryStore()))
	})

	t.Run("smol SMT", func(t *testing.T) {
		testUpdate(NewCompactedTree(NewMemoryStore()))
	})
}

// TestHistoryIndependence tests that given the same set of keys, two trees
// that insert the keys in an arbitrary order get the same root hash in the
// end.
func TestHistoryIndependence(t *testing.T) {
	t.Parallel()

	leaves := randTree(100)
	ctx := context.TODO()

	// First create the default SMT tree in the same order we created the
	// leaves.
	tree1 := NewFullTree(NewMemoryStore())
	for _, item := range leaves {
		_, err := tree1.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	// Next recreate the same tree but by changing the insertion order
	// to a random permutation of the original range.
	tree2 := NewFullTree(NewMemoryStore())
	for _, i := range rand.Perm(len(leaves)) {
		_, err := tree2.Insert(ctx, leaves[i].key, leaves[i].leaf)
		require.NoError(t, err)
	}

	// Now create a compacted tree again with the original order.
	smolTree1 := NewCompactedTree(NewMemoryStore())
	for i := range leaves {
		_, err := smolTree1.Insert(ctx, leaves[i].key, leaves[i].leaf)
		require.NoError(t, err)
	}

	// Finally create a compacted tree but by changing the insertion order
	// to a random permutation of the original range.
	smolTree2 := NewCompactedTree(NewMemoryStore())
	for _, i := range rand.Perm(len(leaves)) {
		_, err := smolTree2.Insert(ctx, leaves[i].key, leaves[i].leaf)
		require.NoError(t, err)
	}

	// The root hash and sum of both full trees should be the same.
	require.Equal(
		t, treeRoot(t, tree1).NodeHash(),
		treeRoot(t, tree2).NodeHash(),
	)
	require.Equal(
		t, treeRoot(t, tree1).NodeSum(),
		treeRoot(t, tree2).NodeSum(),
	)

	// Similarly for the compacted trees.
	require.Equal(
		t, treeRoot(t, smolTree1).NodeHash(),
		treeRoot(t, smolTree2).NodeHash(),
	)
	require.Equal(
		t, treeRoot(t, smolTree1).NodeSum(),
		treeRoot(t, smolTree2).NodeSum(),
	)

	// Now check that the full tree has the same root as the compacted
	// tree. Due to transitivity this also means that all roots and sums
	// are the same.
	require.Equal(
		t, treeRoot(t, tree1).NodeHash(),
		treeRoot(t, smolTree1).NodeHash(),
	)
	require.Equal(
		t, treeRoot(t, tree1).NodeSum(),
		treeRoot(t, smolTree1).NodeSum(),
	)
}

// TestDeletion asserts that deleting all inserted leaves of a tree results
// in an empty tree with an empty store.
func TestDeletion(t *testing.T) {
	t.Parallel()

	leaves := randTree(1000)

	t.Run("full SMT", func(t *testing.T) {
		store := NewMemoryStore()
		testDeletion(t, leaves, NewFullTree(store), store)
	})

	t.Run("smol SMT", func(t *testing.T) {
		store := NewMemoryStore()
		testDeletion(t, leaves, NewCompactedTree(store), store)
	})
}

func testDeletion(t *testing.T, leaves []treeLeaf, tree Tree,
	store *MemoryStore) {

	ctx := context.TODO()
	for _, item := range leaves {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	require.NotEqual(t, EmptyTree[0], treeRoot(t, tree))
	for _, item := range leaves {
		_, err := tree.Delete(ctx, item.key)
		require.NoError(t, err)
		emptyLeaf, err := tree.Get(ctx, item.key)
		require.NoError(t, err)
		require.True(t, emptyLeaf.IsEmpty())
	}
	require.Equal(t, EmptyTree[0], treeRoot(t, tree))

	// With no root or retained snapshots left alive, every node must
	// have been reclaimed.
	require.Equal(t, 0, store.NumNodes())
}

// TestNoOpMutations asserts that re-inserting the leaf committed at a key
// and deleting an absent key leave the tree and the store untouched.
func TestNoOpMutations(t *testing.T) {
	t.Parallel()

	runNoOps := func(t *testing.T, tree Tree, store *MemoryStore) {
		ctx := context.TODO()
		leaves := randTree(50)
		for _, item := range leaves {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		rootBefore := treeRoot(t, tree)
		numBefore := store.NumNodes()

		// Deleting keys that were never inserted changes nothing.
		for i := 0; i < 10; i++ {
			_, err := tree.Delete(ctx, randKey())
			require.NoError(t, err)
		}

		// Same for re-inserting the exact same leaves.
		for _, item := range leaves {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		require.True(t, IsEqualNode(rootBefore, treeRoot(t, tree)))
		require.Equal(t, numBefore, store.NumNodes())
	}

	t.Run("full SMT", func(t *testing.T) {
		store := NewMemoryStore()
		runNoOps(t, NewFullTree(store), store)
	})

	t.Run("smol SMT", func(t *testing.T) {
		store := NewMemoryStore()
		runNoOps(t, NewCompactedTree(store), store)
	})
}

// TestInsertSumOverflow asserts that inserting a leaf that would push the
// root sum past the 64-bit range is rejected.
func TestInsertSumOverflow(t *testing.T) {
	t.Parallel()

	runOverflow := func(t *testing.T, tree Tree) {
		ctx := context.TODO()
		key1, key2 := randKey(), randKey()

		_, err := tree.Insert(
			ctx, key1, NewLeafNode([]byte{1}, math.MaxUint64-1),
		)
		require.NoError(t, err)

		_, err = tree.Insert(ctx, key2, NewLeafNode([]byte{2}, 2))
		require.ErrorIs(t, err, ErrIntegerOverflow)

		// Replacing the big leaf itself stays within range and must
		// still work.
		_, err = tree.Insert(ctx, key1, NewLeafNode([]byte{3}, 10))
		require.NoError(t, err)

		_, err = tree.Insert(ctx, key2, NewLeafNode([]byte{2}, 2))
		require.NoError(t, err)
		require.EqualValues(t, 12, treeRoot(t, tree).NodeSum())
	}

	t.Run("full SMT", func(t *testing.T) {
		runOverflow(t, NewFullTree(NewMemoryStore()))
	})

	t.Run("smol SMT", func(t *testing.T) {
		runOverflow(t, NewCompactedTree(NewMemoryStore()))
	})
}

func assertEqualProofAfterCompression(t *testing.T, proof *Proof) {
	t.Helper()

	// Compressed proofs should never have empty nodes.
	compressedProof := proof.Compress()
	for _, entry := range compressedProof.Entries {
		if entry.Sibling == nil {
			continue
		}
		for _, emptyNode := range EmptyTree {
			require.False(
				t, IsEqualNode(entry.Sibling, emptyNode),
			)
		}
	}
	decompressed, err := compressedProof.Decompress()
	require.NoError(t, err)
	require.Equal(t, proof.Leaf, decompressed.Leaf)
	for i := range proof.Nodes {
		require.True(
			t, IsEqualNode(proof.Nodes[i], decompressed.Nodes[i]),
		)
	}
}

func testMerkleProof(t *testing.T, tree Tree, leaves []treeLeaf) {
	ctx := context.TODO()
	for _, item := range leaves {
		proof, err := tree.MerkleProof(ctx, item.key)
		require.NoError(t, err)
		require.True(t, proof.IsInclusion())

		require.True(t, VerifyMerkleProof(
			item.key, proof, treeRoot(t, tree),
		))

		// If we alter the proof's leaf sum, then the proof should no
		// longer be valid.
		tampered := proof.Copy()
		tampered.Leaf.sum++
		require.False(t, VerifyMerkleProof(
			item.key, tampered, treeRoot(t, tree),
		))

		// If we delete the proof's leaf node from the tree, then
		// it should also no longer be valid.
		_, err = tree.Delete(ctx, item.key)
		require.NoError(t, err)

		require.False(t, VerifyMerkleProof(
			item.key, proof, treeRoot(t, tree),
		))
	}

	// Compute the proof for a key that was never inserted. This should
	// result in a non-inclusion proof (an empty leaf exists at said key).
	nonExistentKey := randKey()

	proof, err := tree.MerkleProof(ctx, nonExistentKey)
	require.NoError(t, err)
	require.False(t, proof.IsInclusion())

	assertEqualProofAfterCompression(t, proof)

	require.True(t, VerifyMerkleProof(
		nonExistentKey, proof, treeRoot(t, tree),
	))

	// Swapping in an arbitrary leaf must not verify.
	forged := proof.Copy()
	forged.Leaf = randLeaf()
	require.False(t, VerifyMerkleProof(
		nonExistentKey, forged, treeRoot(t, tree),
	))
}

func testProofEquality(t *testing.T, tree1, tree2 Tree, leaves []treeLeaf) {
	assertEqualProof := func(proof1, proof2 *Proof) {
		t.Helper()

		require.Equal(t, len(proof1.Nodes), len(proof2.Nodes))
		for i := range proof1.Nodes {
			require.Equal(t,
				proof1.Nodes[i].NodeHash(),
				proof2.Nodes[i].NodeHash(),
			)
			require.Equal(t,
				proof1.Nodes[i].NodeSum(),
				proof2.Nodes[i].NodeSum(),
			)
		}
	}

	ctx := context.TODO()
	for _, item := range leaves {
		proof1, err := tree1.MerkleProof(ctx, item.key)
		require.NoError(t, err)

		proof2, err := tree2.MerkleProof(ctx, item.key)
		require.NoError(t, err)

		require.True(t, VerifyMerkleProof(
			item.key, proof1, treeRoot(t, tree1),
		))
		require.True(t, VerifyMerkleProof(
			item.key, proof2, treeRoot(t, tree2),
		))

		assertEqualProof(proof1, proof2)

		assertEqualProofAfterCompression(t, proof1)
		assertEqualProofAfterCompression(t, proof2)
	}
}

// TestMerkleProof asserts that merkle proofs (inclusion and non-inclusion)
// for leaf nodes are constructed, compressed, decompressed, and verified
// properly.
func TestMerkleProof(t *testing.T) {
	t.Parallel()

	tree := NewFullTree(NewMemoryStore())
	smolTree := NewCompactedTree(NewMemoryStore())

	leaves := randTree(100)
	ctx := context.TODO()
	for _, item := range leaves {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
		_, err = smolTree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	t.Run("proof equality", func(t *testing.T) {
		testProofEquality(t, tree, smolTree, leaves)
	})

	t.Run("full SMT proof properties", func(t *testing.T) {
		testMerkleProof(t, tree, leaves)
	})

	t.Run("smol SMT proof properties", func(t *testing.T) {
		testMerkleProof(t, smolTree, leaves)
	})
}

// testSnapshots asserts that retained roots stay readable and provable
// while the tree moves on, and that releasing them reclaims their nodes.
func testSnapshots(t *testing.T, makeTree func(*MemoryStore) Tree) {
	ctx := context.TODO()
	store := NewMemoryStore()
	tree := makeTree(store)

	leaves := randTree(100)
	for _, item := range leaves {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	// Pin the current root, then mutate the tree underneath it.
	snapRoot, err := tree.RetainRoot(ctx)
	require.NoError(t, err)

	changed := leaves[:len(leaves)/2]
	for _, item := range changed {
		_, err := tree.Delete(ctx, item.key)
		require.NoError(t, err)
	}
	extra := randTree(50)
	for _, item := range extra {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}
	require.NotEqual(t, snapRoot, treeRoot(t, tree).NodeHash())

	// The snapshot view still resolves every original leaf and produces
	// proofs against the old root.
	var snapTree Tree
	switch tr := tree.(type) {
	case *FullTree:
		snapTree = tr.At(snapRoot)
	case *CompactedTree:
		snapTree = tr.At(snapRoot)
	}

	snapRootNode, err := snapTree.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, snapRoot, snapRootNode.NodeHash())

	for _, item := range leaves {
		leafCopy, err := snapTree.Get(ctx, item.key)
		require.NoError(t, err)
		require.Equal(t, item.leaf, leafCopy)

		proof, err := snapTree.MerkleProof(ctx, item.key)
		require.NoError(t, err)
		require.True(t, VerifyMerkleProof(
			item.key, proof, snapRootNode,
		))
	}

	// Snapshot views reject mutations.
	_, err = snapTree.Insert(ctx, randKey(), randLeaf())
	require.ErrorIs(t, err, ErrTreeReadOnly)
	_, err = snapTree.Delete(ctx, randKey())
	require.ErrorIs(t, err, ErrTreeReadOnly)

	// Once the snapshot is released and the live tree fully deleted, no
	// nodes may linger.
	require.NoError(t, tree.ReleaseRoot(ctx, snapRoot))

	for _, item := range leaves[len(leaves)/2:] {
		_, err := tree.Delete(ctx, item.key)
		require.NoError(t, err)
	}
	for _, item := range extra {
		_, err := tree.Delete(ctx, item.key)
		require.NoError(t, err)
	}
	require.Equal(t, EmptyTree[0], treeRoot(t, tree))
	require.Equal(t, 0, store.NumNodes())
}

// TestSnapshots asserts copy-on-write snapshot behavior of both tree
// implementations.
func TestSnapshots(t *testing.T) {
	t.Parallel()

	t.Run("full SMT", func(t *testing.T) {
		testSnapshots(t, func(store *MemoryStore) Tree {
			return NewFullTree(store)
		})
	})

	t.Run("smol SMT", func(t *testing.T) {
		testSnapshots(t, func(store *MemoryStore) Tree {
			return NewCompactedTree(store)
		})
	})
}

func testSnapshotConvergence(t *testing.T, makeTree func(*MemoryStore) Tree) {
	ctx := context.TODO()

	keyWithFirstByte := func(firstByte byte) [hashSize]byte {
		var key [hashSize]byte
		key[0] = firstByte
		return key
	}

	// key1 and key2 share their first two bits, so inserting key2 splits
	// the subtree holding key1. key3 diverges from both at the first
	// bit and anchors the other half of the tree.
	key1 := keyWithFirstByte(0x00)
	key2 := keyWithFirstByte(0x04)
	key3 := keyWithFirstByte(0x01)

	store := NewMemoryStore()
	tree := makeTree(store)

	_, err := tree.Insert(ctx, key1, RandLeaf(t))
	require.NoError(t, err)
	_, err = tree.Insert(ctx, key3, RandLeaf(t))
	require.NoError(t, err)

	snapRoot, err := tree.RetainRoot(ctx)
	require.NoError(t, err)

	// Splitting key1's subtree and deleting the split key again must
	// converge the root back to the pinned one, while the pinned root
	// keeps its subtree alive throughout.
	_, err = tree.Insert(ctx, key2, RandLeaf(t))
	require.NoError(t, err)
	require.NotEqual(t, snapRoot, treeRoot(t, tree).NodeHash())

	_, err = tree.Delete(ctx, key2)
	require.NoError(t, err)
	require.Equal(t, snapRoot, treeRoot(t, tree).NodeHash())

	// With the snapshot released and every leaf deleted, the store must
	// be fully reclaimed: the converged state may not have stranded any
	// of the nodes written while the split was live.
	require.NoError(t, tree.ReleaseRoot(ctx, snapRoot))
	_, err = tree.Delete(ctx, key1)
	require.NoError(t, err)
	_, err = tree.Delete(ctx, key3)
	require.NoError(t, err)

	require.Equal(t, EmptyTree[0], treeRoot(t, tree))
	require.Equal(t, 0, store.NumNodes())

	// Same exercise with random keys, where the split depth varies.
	for i := 0; i < 10; i++ {
		store := NewMemoryStore()
		tree := makeTree(store)

		leaves := randTree(10)
		for _, item := range leaves {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		snapRoot, err := tree.RetainRoot(ctx)
		require.NoError(t, err)

		extraKey := randKey()
		_, err = tree.Insert(ctx, extraKey, RandLeaf(t))
		require.NoError(t, err)
		_, err = tree.Delete(ctx, extraKey)
		require.NoError(t, err)
		require.Equal(t, snapRoot, treeRoot(t, tree).NodeHash())

		require.NoError(t, tree.ReleaseRoot(ctx, snapRoot))
		for _, item := range leaves {
			_, err := tree.Delete(ctx, item.key)
			require.NoError(t, err)
		}
		require.Equal(t, 0, store.NumNodes())
	}
}

// TestSnapshotConvergence asserts that mutating a tree back to the exact
// state a retained snapshot pins reclaims every node written in between,
// even though the converged state shares all its nodes with the snapshot.
func TestSnapshotConvergence(t *testing.T) {
	t.Parallel()

	t.Run("full SMT", func(t *testing.T) {
		testSnapshotConvergence(t, func(store *MemoryStore) Tree {
			return NewFullTree(store)
		})
	})

	t.Run("smol SMT", func(t *testing.T) {
		testSnapshotConvergence(t, func(store *MemoryStore) Tree {
			return NewCompactedTree(store)
		})
	})
}

// TestDeleteRoot asserts that releasing the current root reclaims all nodes
// not pinned by a snapshot.
func TestDeleteRoot(t *testing.T) {
	t.Parallel()

	runDeleteRoot := func(t *testing.T, tree Tree, store *MemoryStore) {
		ctx := context.TODO()
		for _, item := range randTree(100) {
			_, err := tree.Insert(ctx, item.key, item.leaf)
			require.NoError(t, err)
		}

		require.NoError(t, tree.DeleteRoot(ctx))
		require.Equal(t, EmptyTree[0], treeRoot(t, tree))
		require.Equal(t, 0, store.NumNodes())
	}

	t.Run("full SMT", func(t *testing.T) {
		store := NewMemoryStore()
		runDeleteRoot(t, NewFullTree(store), store)
	})

	t.Run("smol SMT", func(t *testing.T) {
		store := NewMemoryStore()
		runDeleteRoot(t, NewCompactedTree(store), store)
	})
}

// TestDeleteAllNodes asserts that wiping the store also drops nodes that
// are only reachable from retained snapshot roots.
func TestDeleteAllNodes(t *testing.T) {
	t.Parallel()

	ctx := context.TODO()
	store := NewMemoryStore()
	tree := NewFullTree(store)

	for _, item := range randTree(10) {
		_, err := tree.Insert(ctx, item.key, item.leaf)
		require.NoError(t, err)
	}

	_, err := tree.RetainRoot(ctx)
	require.NoError(t, err)

	require.NoError(t, tree.DeleteAllNodes(ctx))
	require.Equal(t, 0, store.NumNodes())
	require.Equal(t, EmptyTree[0], treeRoot(t, tree))
}
