package test

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/constraints"
)

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

// RandHash returns a random 32 byte array.
func RandHash() [32]byte {
	var hash [32]byte
	copy(hash[:], RandBytes(len(hash)))
	return hash
}

// RandInt makes a random integer of the specified type.
func RandInt[T constraints.Integer]() T {
	return T(rand.Int63())
}

func ParseHex(t testing.TB, hexStr string) []byte {
	t.Helper()

	b, err := hex.DecodeString(hexStr)
	require.NoError(t, err)
	return b
}
