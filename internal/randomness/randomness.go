// Package randomness provides a block-scoped entropy source. Within one block
// every call with the same subject sees the same value; advancing to the next
// block ratchets the entropy forward.
package randomness

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"kittycore/pkg/domain"
)

var _ domain.Randomness = (*BlockSource)(nil)

// Entropy is the 32-byte block entropy.
type Entropy [32]byte

// String returns the hex encoding.
func (e Entropy) String() string { return hex.EncodeToString(e[:]) }

// MarshalText encodes the entropy as hex.
func (e Entropy) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText decodes a 64 character hex string.
func (e *Entropy) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(e)) {
		return fmt.Errorf("entropy: expected %d hex characters, got %d", hex.EncodedLen(len(e)), len(text))
	}
	_, err := hex.Decode(e[:], text)
	return err
}

// NewSeed draws fresh genesis entropy from the operating system.
func NewSeed() (Entropy, error) {
	var e Entropy
	if _, err := rand.Read(e[:]); err != nil {
		return Entropy{}, fmt.Errorf("read entropy: %w", err)
	}
	return e, nil
}

// BlockSource is a domain.Randomness keyed by the current block entropy.
type BlockSource struct {
	mu      sync.RWMutex
	entropy Entropy
	block   uint64
}

// NewBlockSource starts a source at block with the given entropy.
func NewBlockSource(seed Entropy, block uint64) *BlockSource {
	return &BlockSource{entropy: seed, block: block}
}

// Random returns BLAKE2b-256(entropy || subject).
func (s *BlockSource) Random(subject []byte) [32]byte {
	s.mu.RLock()
	entropy := s.entropy
	s.mu.RUnlock()
	buf := make([]byte, 0, len(entropy)+len(subject))
	buf = append(buf, entropy[:]...)
	buf = append(buf, subject...)
	return blake2b.Sum256(buf)
}

// Advance moves the source to the next block and derives its entropy from
// the previous one.
func (s *BlockSource) Advance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	buf := make([]byte, 0, len(s.entropy)+8)
	buf = append(buf, s.entropy[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, s.block)
	s.entropy = blake2b.Sum256(buf)
	return s.block
}

// State returns the current block number and entropy.
func (s *BlockSource) State() (uint64, Entropy) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block, s.entropy
}
