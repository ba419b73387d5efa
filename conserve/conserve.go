// Package conserve validates conservation of committed value across MS-SMT
// state transitions. It is pure verification logic: no tree store is
// consulted and nothing is mutated, so it can run in parallel with any
// number of tree writers.
package conserve

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cairnlabs/cairn/fn"
	"github.com/cairnlabs/cairn/mssmt"
)

// Claim binds a merkle proof to the root it is claimed against. Input
// claims prove leaves under a pre-transition root, output claims prove
// leaves under a post-transition root.
type Claim struct {
	// Root is the tree root the proof is claimed to commit into.
	Root mssmt.Node

	// Key is the leaf position the proof was generated for.
	Key [32]byte

	// Proof commits the leaf at Key under Root.
	Proof *mssmt.Proof
}

// Valid reports whether the claim is an inclusion proof that verifies
// against the claimed root. Exclusion proofs never commit any value and
// are therefore not valid claims.
func (c Claim) Valid() bool {
	if c.Proof == nil || c.Root == nil {
		return false
	}
	if !c.Proof.IsInclusion() {
		return false
	}

	return mssmt.VerifyMerkleProof(c.Key, c.Proof, c.Root)
}

// Sum returns the value committed by the claim's leaf.
func (c Claim) Sum() uint64 {
	return c.Proof.Leaf.NodeSum()
}

// sumClaims accumulates the committed value of the given claims, rejecting
// totals that leave the 64-bit range.
func sumClaims(claims []Claim) (uint64, error) {
	var total uint64
	for _, sum := range fn.Map(claims, Claim.Sum) {
		err := mssmt.CheckSumOverflowUint64(total, sum)
		if err != nil {
			return 0, err
		}
		total += sum
	}

	return total, nil
}

// Check verifies that the given input and output claims preserve the total
// committed value: every claim must individually verify against its
// claimed root, and the input leaves must sum to exactly the same value as
// the output leaves.
func Check(ctx context.Context, inputs, outputs []Claim) bool {
	// Each claim verifies independently of the others, so fan the
	// verification out across all cores.
	eg, _ := errgroup.WithContext(ctx)
	verify := func(side string, claims []Claim) {
		for idx := range claims {
			claim := claims[idx]
			eg.Go(func() error {
				if !claim.Valid() {
					return fmt.Errorf("invalid %s claim "+
						"for key %x", side, claim.Key)
				}
				return nil
			})
		}
	}
	verify("input", inputs)
	verify("output", outputs)

	if err := eg.Wait(); err != nil {
		log.Debugf("Conservation check failed: %v", err)
		log.Tracef("Rejected claims: %v",
			limitSpewer.Sdump(inputs, outputs))
		return false
	}

	inputSum, err := sumClaims(inputs)
	if err != nil {
		log.Debugf("Conservation check failed: input %v", err)
		return false
	}
	outputSum, err := sumClaims(outputs)
	if err != nil {
		log.Debugf("Conservation check failed: output %v", err)
		return false
	}

	if inputSum != outputSum {
		log.Debugf("Conservation check failed: inputs commit %d, "+
			"outputs commit %d", inputSum, outputSum)
		return false
	}

	return true
}
