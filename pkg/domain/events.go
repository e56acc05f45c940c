package domain

import "time"

// EventKind names a registry event.
type EventKind string

// Events emitted by the registry.
const (
	// EventCreated is emitted when create or breed mints a kitty.
	EventCreated EventKind = "created"
	// EventTransferred is emitted when a kitty changes owner.
	EventTransferred EventKind = "transferred"
)

// Event is a committed registry event. Seq is assigned by the store when the
// event is journaled and is strictly increasing across the journal.
type Event struct {
	Seq        uint64    `json:"seq"`
	Kind       EventKind `json:"kind"`
	Owner      AccountID `json:"owner"`
	Recipient  AccountID `json:"recipient,omitempty"`
	KittyID    KittyID   `json:"kitty_id"`
	Deposit    Balance   `json:"deposit"`
	Block      uint64    `json:"block"`
	CallIndex  uint32    `json:"call_index"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Created builds a Created(owner, id, deposit) event.
func Created(owner AccountID, id KittyID, deposit Balance) Event {
	return Event{Kind: EventCreated, Owner: owner, KittyID: id, Deposit: deposit}
}

// Transferred builds a Transferred(from, to, id, deposit) event.
func Transferred(from, to AccountID, id KittyID, deposit Balance) Event {
	return Event{Kind: EventTransferred, Owner: from, Recipient: to, KittyID: id, Deposit: deposit}
}
