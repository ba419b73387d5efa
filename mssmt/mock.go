package mssmt

import (
	"bytes"
	"context"
	"encoding/hex"
	"math"
	"testing"

	"github.com/cairnlabs/cairn/internal/test"
	"github.com/stretchr/testify/require"
)

// RandLeafAmount generates a random leaf node sum amount.
func RandLeafAmount() uint64 {
	minSum := uint64(1)
	maxSum := uint64(math.MaxUint32)
	return (test.RandInt[uint64]() % maxSum) + minSum
}

// RandLeaf returns a random leaf node for testing.
func RandLeaf(t testing.TB) *LeafNode {
	t.Helper()

	return NewLeafNode(test.RandBytes(32), RandLeafAmount())
}

// RandProof returns a random proof for testing.
func RandProof(t testing.TB) *Proof {
	var (
		store      = NewMemoryStore()
		tree  Tree = NewFullTree(store)
		key1       = test.RandHash()
		key2       = test.RandHash()
		err   error
	)
	tree, err = tree.Insert(
		context.Background(), key1, NewLeafNode([]byte("foo"), 10),
	)
	require.NoError(t, err)
	tree, err = tree.Insert(
		context.Background(), key2, NewLeafNode([]byte("bar"), 20),
	)
	require.NoError(t, err)

	proof, err := tree.MerkleProof(context.Background(), key2)
	require.NoError(t, err)
	return proof
}

// ParseProof decodes and decompresses a hex encoded compressed proof.
func ParseProof(t testing.TB, proofHex string) Proof {
	t.Helper()

	proofBytes := test.ParseHex(t, proofHex)

	var compressedProof CompressedProof
	err := compressedProof.Decode(bytes.NewReader(proofBytes))
	require.NoError(t, err)

	proof, err := compressedProof.Decompress()
	require.NoError(t, err)

	return *proof
}

// HexProof compresses and encodes a proof to its hex encoding.
func HexProof(t testing.TB, proof *Proof) string {
	t.Helper()

	compressedProof := proof.Compress()

	var buf bytes.Buffer
	err := compressedProof.Encode(&buf)
	require.NoError(t, err)

	return hex.EncodeToString(buf.Bytes())
}
