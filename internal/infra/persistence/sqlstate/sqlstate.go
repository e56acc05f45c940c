// Package sqlstate writes the registry snapshot and an append-only event
// journal through database/sql. The sqlite and postgres stores share it and
// differ only in their Dialect.
package sqlstate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/pkg/domain"
)

const (
	StateTable  = "kitty_state"
	EventsTable = "kitty_events"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// PayloadType is the column type of snapshot payloads.
	PayloadType string
	// Positional placeholders ($1) instead of question marks.
	Numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite", PayloadType: "BLOB"}
	Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", Numbered: true}
)

func (d Dialect) placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		if d.Numbered {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ",")
}

// Schema returns the DDL creating both tables.
func (d Dialect) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, StateTable, d.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGINT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner TEXT NOT NULL,
		recipient TEXT NOT NULL,
		kitty_id BIGINT NOT NULL,
		deposit BIGINT NOT NULL,
		block_number BIGINT NOT NULL,
		call_index BIGINT NOT NULL,
		recorded_at TEXT NOT NULL
	)`, EventsTable),
	}
}

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, ddl := range d.Schema() {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s schema: %w", d.Name, err)
		}
	}
	return nil
}

// Load reads the snapshot buckets. found is false for an empty database.
func Load(ctx context.Context, db *sql.DB) (snapshot memory.Snapshot, found bool, err error) {
	rows, err := db.QueryContext(ctx, "SELECT bucket, payload FROM "+StateTable)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select %s: %w", StateTable, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan %s: %w", StateTable, err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate %s: %w", StateTable, err)
	}
	return snapshot, found, nil
}

// Persist upserts every bucket of snapshot and appends the events with
// Seq > journaled, all in one SQL transaction. It returns the new journal
// high-water mark, which is journaled unchanged on error.
func Persist(ctx context.Context, db *sql.DB, d Dialect, snapshot memory.Snapshot, journaled uint64) (uint64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return journaled, fmt.Errorf("begin %s tx: %w", d.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	upsert := fmt.Sprintf(`INSERT INTO %s(bucket,payload) VALUES(%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		StateTable, d.placeholders(2))
	for _, bucket := range memory.Buckets {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			return journaled, err
		}
		if _, err := tx.ExecContext(ctx, upsert, bucket, data); err != nil {
			return journaled, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}

	appendEvent := fmt.Sprintf(`INSERT INTO %s(seq,kind,owner,recipient,kitty_id,deposit,block_number,call_index,recorded_at) VALUES(%s) ON CONFLICT(seq) DO NOTHING`,
		EventsTable, d.placeholders(9))
	next := journaled
	for _, ev := range snapshot.Events {
		if ev.Seq <= journaled {
			continue
		}
		if _, err := tx.ExecContext(ctx, appendEvent,
			int64(ev.Seq), string(ev.Kind), string(ev.Owner), string(ev.Recipient),
			int64(ev.KittyID), int64(ev.Deposit), int64(ev.Block), int64(ev.CallIndex),
			ev.RecordedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return journaled, fmt.Errorf("append event %d: %w", ev.Seq, err)
		}
		next = ev.Seq
	}

	if err := tx.Commit(); err != nil {
		return journaled, fmt.Errorf("commit %s tx: %w", d.Name, err)
	}
	committed = true
	return next, nil
}

// Journal reads events with Seq > afterSeq from the events table in order.
func Journal(ctx context.Context, db *sql.DB, d Dialect, afterSeq uint64) ([]domain.Event, error) {
	query := fmt.Sprintf(`SELECT seq, kind, owner, recipient, kitty_id, deposit, block_number, call_index, recorded_at FROM %s WHERE seq > %s ORDER BY seq`,
		EventsTable, d.placeholders(1))
	rows, err := db.QueryContext(ctx, query, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", EventsTable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Event
	for rows.Next() {
		var (
			seq, kittyID, deposit, block, callIndex int64
			kind, owner, recipient, recordedAt      string
		)
		if err := rows.Scan(&seq, &kind, &owner, &recipient, &kittyID, &deposit, &block, &callIndex, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", EventsTable, err)
		}
		if uint64(seq) <= afterSeq {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("event %d recorded_at: %w", seq, err)
		}
		out = append(out, domain.Event{
			Seq:        uint64(seq),
			Kind:       domain.EventKind(kind),
			Owner:      domain.AccountID(owner),
			Recipient:  domain.AccountID(recipient),
			KittyID:    domain.KittyID(kittyID),
			Deposit:    domain.Balance(deposit),
			Block:      uint64(block),
			CallIndex:  uint32(callIndex),
			RecordedAt: at,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", EventsTable, err)
	}
	return out, nil
}

// LastSeq returns the Seq of the newest event in snapshot, or zero.
func LastSeq(snapshot memory.Snapshot) uint64 {
	if n := len(snapshot.Events); n > 0 {
		return snapshot.Events[n-1].Seq
	}
	return 0
}
