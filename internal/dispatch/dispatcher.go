// Package dispatch serializes registry calls the way a block executes
// extrinsics: one at a time, each with a signed caller, the current block
// number and its index within the block.
package dispatch

import (
	"context"
	"sync"

	"kittycore/internal/randomness"
	"kittycore/pkg/domain"
)

// Call is a registry operation bound to its origin.
type Call func(ctx context.Context, origin domain.Origin) error

// State is the persisted position of a dispatcher.
type State struct {
	Block     uint64             `json:"block"`
	Entropy   randomness.Entropy `json:"entropy"`
	CallIndex uint32             `json:"call_index"`
}

// Dispatcher runs calls one at a time and numbers them within the block.
type Dispatcher struct {
	mu        sync.Mutex
	source    *randomness.BlockSource
	callIndex uint32
}

// New returns a dispatcher at the block and entropy held by source.
func New(source *randomness.BlockSource) *Dispatcher {
	return &Dispatcher{source: source}
}

// Restore rebuilds a dispatcher and its randomness source from state.
func Restore(state State) *Dispatcher {
	return &Dispatcher{
		source:    randomness.NewBlockSource(state.Entropy, state.Block),
		callIndex: state.CallIndex,
	}
}

// Randomness returns the entropy source calls should draw from.
func (d *Dispatcher) Randomness() *randomness.BlockSource { return d.source }

// Dispatch runs call for caller. The call index advances whether or not the
// call succeeds, as a failed extrinsic still occupies its slot in the block.
func (d *Dispatcher) Dispatch(ctx context.Context, caller domain.AccountID, call Call) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	block, _ := d.source.State()
	origin := domain.Origin{Caller: caller, Block: block, CallIndex: d.callIndex}
	d.callIndex++
	return call(ctx, origin)
}

// RunToBlock advances block by block until n is reached. Each new block
// resets the call index and ratchets the entropy.
func (d *Dispatcher) RunToBlock(n uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	block, _ := d.source.State()
	for block < n {
		block = d.source.Advance()
		d.callIndex = 0
	}
	return block
}

// Block returns the current block number.
func (d *Dispatcher) Block() uint64 {
	block, _ := d.source.State()
	return block
}

// State captures the dispatcher position for persistence.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	block, entropy := d.source.State()
	return State{Block: block, Entropy: entropy, CallIndex: d.callIndex}
}
