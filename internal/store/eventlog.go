package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// EventLog reads the registry history of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// appendEvent appends event inside tx with the next per-name sequence.
// The caller's transaction holds the write lock, since the store keeps a
// single connection.
func appendEvent(ctx context.Context, tx *sql.Tx, event *Event) error {
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM definition_events WHERE name = ?`, event.Name,
	).Scan(&seq); err != nil {
		return storeError("next sequence", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO definition_events (name, version, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.Name, nullStr(event.Version), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return storeError("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// History returns the events of name with sequence > since.
func (el *EventLog) History(ctx context.Context, name string, since int64) ([]*Event, error) {
	return el.store.History(ctx, name, since)
}

// Replay folds the full history of name and returns the versions that are
// still live, oldest first. A gap in the sequence is a STORE_ERROR.
func (el *EventLog) Replay(ctx context.Context, name string) ([]string, error) {
	events, err := el.store.History(ctx, name, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	live := make(map[string]int)
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in history of %s: expected %d, got %d", name, expected, e.Sequence)
		}

		switch e.Type {
		case EventDefined:
			n, err := ParseVersion(e.Version)
			if err != nil {
				return nil, err
			}
			live[e.Version] = n
		case EventDeleted:
			delete(live, e.Version)
		}
	}

	versions := make([]string, 0, len(live))
	for v := range live {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return live[versions[i]] < live[versions[j]] })
	return versions, nil
}
