package conserve

import (
	"context"
	"math"
	"testing"

	"github.com/cairnlabs/cairn/internal/test"
	"github.com/cairnlabs/cairn/mssmt"
	"github.com/stretchr/testify/require"
)

// makeClaims commits the given sums into a fresh tree and returns one valid
// claim per sum, all bound to the tree's final root.
func makeClaims(t *testing.T, sums []uint64) []Claim {
	t.Helper()

	ctx := context.Background()
	tree := mssmt.NewCompactedTree(mssmt.NewMemoryStore())

	keys := make([][32]byte, len(sums))
	for i, sum := range sums {
		keys[i] = test.RandHash()
		_, err := tree.Insert(
			ctx, keys[i],
			mssmt.NewLeafNode(test.RandBytes(32), sum),
		)
		require.NoError(t, err)
	}

	root, err := tree.Root(ctx)
	require.NoError(t, err)

	claims := make([]Claim, len(sums))
	for i, key := range keys {
		proof, err := tree.MerkleProof(ctx, key)
		require.NoError(t, err)

		claims[i] = Claim{
			Root:  root,
			Key:   key,
			Proof: proof,
		}
	}

	return claims
}

// TestCheckConservation asserts that value-preserving transitions are
// accepted and any imbalance is rejected.
func TestCheckConservation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Two inputs committing 100 units move into three outputs committing
	// 100 units.
	inputs := makeClaims(t, []uint64{60, 40})
	outputs := makeClaims(t, []uint64{50, 30, 20})
	require.True(t, Check(ctx, inputs, outputs))

	// Destroying a unit must fail.
	short := makeClaims(t, []uint64{50, 30, 19})
	require.False(t, Check(ctx, inputs, short))

	// As must minting one out of thin air.
	excess := makeClaims(t, []uint64{50, 30, 21})
	require.False(t, Check(ctx, inputs, excess))
}

// TestCheckClaimValidity asserts that conservation never passes on claims
// that don't verify, regardless of their sums.
func TestCheckClaimValidity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	inputs := makeClaims(t, []uint64{60, 40})
	outputs := makeClaims(t, []uint64{100})

	t.Run("tampered leaf", func(t *testing.T) {
		// The sums still balance, but the proof no longer matches
		// its root once the leaf value changed.
		tampered := make([]Claim, len(outputs))
		copy(tampered, outputs)
		tampered[0].Proof = outputs[0].Proof.Copy()
		tampered[0].Proof.Leaf = mssmt.NewLeafNode(
			test.RandBytes(32), 100,
		)
		require.False(t, Check(ctx, inputs, tampered))
	})

	t.Run("wrong root", func(t *testing.T) {
		wrongRoot := make([]Claim, len(outputs))
		copy(wrongRoot, outputs)
		wrongRoot[0].Root = inputs[0].Root
		require.False(t, Check(ctx, inputs, wrongRoot))
	})

	t.Run("exclusion proof", func(t *testing.T) {
		tree := mssmt.NewCompactedTree(mssmt.NewMemoryStore())
		_, err := tree.Insert(
			ctx, test.RandHash(),
			mssmt.NewLeafNode(test.RandBytes(32), 100),
		)
		require.NoError(t, err)

		root, err := tree.Root(ctx)
		require.NoError(t, err)

		absentKey := test.RandHash()
		proof, err := tree.MerkleProof(ctx, absentKey)
		require.NoError(t, err)
		require.False(t, proof.IsInclusion())

		exclusion := []Claim{{
			Root:  root,
			Key:   absentKey,
			Proof: proof,
		}}
		require.False(t, Check(ctx, inputs, exclusion))
	})

	t.Run("missing proof", func(t *testing.T) {
		require.False(t, Check(ctx, inputs, []Claim{{
			Root: outputs[0].Root,
			Key:  outputs[0].Key,
		}}))
	})
}

// TestCheckSumOverflow asserts that claim totals that overflow the 64-bit
// range are rejected rather than wrapped.
func TestCheckSumOverflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	big1 := makeClaims(t, []uint64{math.MaxUint64 - 1})
	big2 := makeClaims(t, []uint64{math.MaxUint64 - 1})
	inputs := append(append([]Claim{}, big1...), big2...)

	outputs := makeClaims(t, []uint64{100})
	require.False(t, Check(ctx, inputs, outputs))
}
