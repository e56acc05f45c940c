// Package domain defines the persistent registry entities, value types, and
// rule evaluation primitives used by kittycore.
package domain

import (
	"encoding/hex"
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the registry.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityKitty identifies a kitty record (id, DNA, deposit).
	EntityKitty EntityType = "kitty"
	// EntityOwnership identifies an id->owner index entry.
	EntityOwnership EntityType = "ownership"
	// EntityLineage identifies a parent/child/partner graph node.
	EntityLineage EntityType = "lineage"
)

// KittyID is the opaque, monotonically allocated identifier of a kitty.
type KittyID uint32

// AccountID identifies a signed caller or recipient.
type AccountID string

// Balance is an amount of the external fungible currency.
type Balance uint64

// DNALength is the size in bytes of a kitty's genetic material.
const DNALength = 16

// DNA is a kitty's genetic material.
type DNA [DNALength]byte

// String returns the lowercase hex encoding.
func (d DNA) String() string { return hex.EncodeToString(d[:]) }

// MarshalText encodes the DNA as 32 hex characters.
func (d DNA) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a 32 character hex string.
func (d *DNA) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(DNALength) {
		return fmt.Errorf("dna: expected %d hex characters, got %d", hex.EncodedLen(DNALength), len(text))
	}
	if _, err := hex.Decode(d[:], text); err != nil {
		return fmt.Errorf("dna: %w", err)
	}
	return nil
}

// Kitty is the registry's entity record. Ownership lives in a separate index;
// the record itself is never rewritten after creation.
type Kitty struct {
	ID        KittyID   `json:"id"`
	DNA       DNA       `json:"dna"`
	Deposit   Balance   `json:"deposit"`
	CreatedAt time.Time `json:"created_at"`
}

// Ownership pairs a kitty with its current owner.
type Ownership struct {
	KittyID KittyID   `json:"kitty_id"`
	Owner   AccountID `json:"owner"`
}

// Lineage is a node of the relationship graph. Parents is nil for kitties
// minted directly and set exactly once for kitties produced by breeding.
type Lineage struct {
	KittyID  KittyID     `json:"kitty_id"`
	Parents  *[2]KittyID `json:"parents,omitempty"`
	Children []KittyID   `json:"children,omitempty"`
	Partners []KittyID   `json:"partners,omitempty"`
}

// HasParents reports whether the node was produced by breeding.
func (l Lineage) HasParents() bool { return l.Parents != nil }

// Origin is the execution context of a single dispatched call: the signed
// caller, the block it executes in and its position within that block.
type Origin struct {
	Caller    AccountID
	Block     uint64
	CallIndex uint32
}

// Signed builds an Origin for caller at call index zero.
func Signed(caller AccountID) Origin {
	return Origin{Caller: caller}
}
