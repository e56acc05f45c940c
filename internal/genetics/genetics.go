// Package genetics derives kitty DNA: fresh seeds from block entropy and
// per-bit crossover of two parents under a random selector.
package genetics

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"kittycore/pkg/domain"
)

// Subject is the domain separator passed to the randomness source.
const Subject = "kitties pallet context"

// DeriveSeed returns fresh DNA for a call by caller at callIndex. The result
// is the 128-bit BLAKE2b digest of the block entropy, the caller and the call
// index, so two calls in one block never share a seed.
func DeriveSeed(rnd domain.Randomness, caller domain.AccountID, callIndex uint32) domain.DNA {
	entropy := rnd.Random([]byte(Subject))
	h, err := blake2b.New(domain.DNALength, nil)
	if err != nil {
		// only reachable with an invalid size constant
		panic(fmt.Errorf("genetics: blake2b: %w", err))
	}
	buf := make([]byte, 0, len(entropy)+binary.MaxVarintLen64+len(caller)+4)
	buf = append(buf, entropy[:]...)
	buf = binary.AppendUvarint(buf, uint64(len(caller)))
	buf = append(buf, caller...)
	buf = binary.LittleEndian.AppendUint32(buf, callIndex)
	_, _ = h.Write(buf)

	var dna domain.DNA
	copy(dna[:], h.Sum(nil))
	return dna
}

// Combine takes each bit from a where sel is set and from b otherwise.
func Combine(a, b, sel byte) byte {
	return (sel & a) | (^sel & b)
}

// Crossover combines two parent genomes position by position.
func Crossover(a, b, sel domain.DNA) domain.DNA {
	var child domain.DNA
	for i := range child {
		child[i] = Combine(a[i], b[i], sel[i])
	}
	return child
}
