// Package archive copies the committed event journal and registry snapshots
// into blob storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kittycore/internal/blob"
	"kittycore/internal/core"
)

const (
	// DefaultBatchSize bounds the events written per batch blob.
	DefaultBatchSize = 256

	eventsPrefix    = "events/"
	snapshotsPrefix = "snapshots/"
	cursorKey       = "events/cursor.json"
)

// Source yields committed events with Seq > afterSeq in journal order.
// *core.Service satisfies it.
type Source interface {
	Events(afterSeq uint64, limit int) []core.Event
}

// Batch is one archived run of consecutive events.
type Batch struct {
	ID        uuid.UUID    `json:"id"`
	FirstSeq  uint64       `json:"first_seq"`
	LastSeq   uint64       `json:"last_seq"`
	Events    []core.Event `json:"events"`
	WrittenAt time.Time    `json:"written_at"`
}

// Cursor records the last archived sequence number.
type Cursor struct {
	LastSeq   uint64    `json:"last_seq"`
	LastBatch string    `json:"last_batch,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot wraps an exported registry state.
type Snapshot struct {
	ID          uuid.UUID          `json:"id"`
	TakenAt     time.Time          `json:"taken_at"`
	State       core.StateSnapshot `json:"state"`
	LastEvent   uint64             `json:"last_event"`
	NextKittyID core.KittyID       `json:"next_kitty_id"`

	// IDsExhausted is set once no further kitty can be minted.
	IDsExhausted bool `json:"ids_exhausted,omitempty"`
}

// Archiver drains a Source into a blob store.
type Archiver struct {
	store     blob.Store
	source    Source
	logger    core.Logger
	batchSize int
	clock     core.Clock
	newID     func() uuid.UUID
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithBatchSize overrides DefaultBatchSize; non-positive values are ignored.
func WithBatchSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(a *Archiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New returns an archiver writing into store.
func New(store blob.Store, source Source, opts ...Option) *Archiver {
	a := &Archiver{
		store:     store,
		source:    source,
		logger:    core.NewNoopLogger(),
		batchSize: DefaultBatchSize,
		clock:     core.ClockFunc(nil),
		newID:     uuid.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Cursor returns the stored cursor, or the zero cursor before the first flush.
func (a *Archiver) Cursor(ctx context.Context) (Cursor, error) {
	var cur Cursor
	if err := blob.GetJSON(ctx, a.store, cursorKey, &cur); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Cursor{}, nil
		}
		return Cursor{}, fmt.Errorf("read cursor: %w", err)
	}
	return cur, nil
}

// Flush writes every event past the cursor in batches and returns the number
// of batches written.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	cur, err := a.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		events := a.source.Events(cur.LastSeq, a.batchSize)
		if len(events) == 0 {
			return written, nil
		}
		next, err := a.writeBatch(ctx, events)
		if err != nil {
			return written, err
		}
		cur = next
		written++
	}
}

func (a *Archiver) writeBatch(ctx context.Context, events []core.Event) (Cursor, error) {
	batch := Batch{
		ID:        a.newID(),
		FirstSeq:  events[0].Seq,
		LastSeq:   events[len(events)-1].Seq,
		Events:    events,
		WrittenAt: a.clock.Now(),
	}
	key := fmt.Sprintf("%s%020d-%020d.json", eventsPrefix, batch.FirstSeq, batch.LastSeq)
	// A batch left behind by an interrupted flush covers the same range.
	if _, err := blob.PutJSON(ctx, a.store, key, batch, false); err != nil && !errors.Is(err, blob.ErrExists) {
		return Cursor{}, fmt.Errorf("write batch %s: %w", key, err)
	}
	cur := Cursor{LastSeq: batch.LastSeq, LastBatch: key, UpdatedAt: batch.WrittenAt}
	if _, err := blob.PutJSON(ctx, a.store, cursorKey, cur, true); err != nil {
		return Cursor{}, fmt.Errorf("write cursor: %w", err)
	}
	a.logger.Debug("archived event batch", "key", key, "events", len(events))
	return cur, nil
}

// Batches lists archived batch keys in sequence order.
func (a *Archiver) Batches(ctx context.Context) ([]string, error) {
	infos, err := a.store.List(ctx, eventsPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Key != cursorKey {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// ReadBatch loads one archived batch.
func (a *Archiver) ReadBatch(ctx context.Context, key string) (Batch, error) {
	var batch Batch
	if err := blob.GetJSON(ctx, a.store, key, &batch); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// WriteSnapshot stores state under a fresh snapshot key and returns the key.
func (a *Archiver) WriteSnapshot(ctx context.Context, state core.StateSnapshot) (string, error) {
	snap := Snapshot{ID: a.newID(), TakenAt: a.clock.Now(), State: state}
	if n := len(state.Events); n > 0 {
		snap.LastEvent = state.Events[n-1].Seq
	}
	if next, err := state.Allocator.Peek(); err == nil {
		snap.NextKittyID = next
	} else {
		snap.IDsExhausted = true
	}
	key := fmt.Sprintf("%s%s-%s.json", snapshotsPrefix, snap.TakenAt.Format("20060102T150405Z"), snap.ID)
	if _, err := blob.PutJSON(ctx, a.store, key, snap, false); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	a.logger.Info("registry snapshot written", "key", key, "kitties", len(state.Kitties))
	return key, nil
}

// Run flushes every interval until ctx is done. Flush errors are logged and
// retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("archive interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if _, err := a.Flush(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("final archive flush failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("archive flush failed", "error", err)
			}
		}
	}
}
