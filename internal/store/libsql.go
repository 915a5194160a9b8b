package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepflow/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	log *EventLog
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/stepflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQLStore{db: db}
	s.log = &EventLog{store: s}
	return s, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// EventLog returns the registry history log.
func (s *LibSQLStore) EventLog() *EventLog { return s.log }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Definitions ---

// SaveDefinition registers rec as the next version of its name. The name
// defaults to the definition's own name. ID, Version and CreatedAt are
// assigned on rec.
func (s *LibSQLStore) SaveDefinition(ctx context.Context, rec *DefinitionRecord) error {
	if rec.Name == "" {
		rec.Name = rec.Definition.Name
	}
	if rec.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition name is required")
	}
	if rec.Description == "" {
		rec.Description = rec.Definition.Description
	}
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin save", err)
	}
	defer tx.Rollback()

	// Versions count every save ever made under the name, so a deleted
	// version number is never handed out again.
	var saved int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM definition_events WHERE name = ? AND event_type = ?`, rec.Name, EventDefined,
	).Scan(&saved); err != nil {
		return storeError("next version", err)
	}

	num := saved + 1
	rec.ID = uuid.New().String()
	rec.Version = FormatVersion(num)
	rec.CreatedAt = timeOrNow(rec.CreatedAt)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO definitions (id, name, version, version_num, description, definition, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Version, num, nullStr(rec.Description), string(def), rec.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "definition %s already exists",
				versionKey(rec.Name, rec.Version)).WithCause(err)
		}
		return storeError("insert definition", err)
	}

	payload, _ := json.Marshal(map[string]string{"id": rec.ID})
	if err := appendEvent(ctx, tx, &Event{
		Name:      rec.Name,
		Version:   rec.Version,
		Type:      EventDefined,
		Payload:   payload,
		Timestamp: rec.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit save", err)
	}
	return nil
}

// GetDefinition returns one version of a definition. An empty version or
// LatestVersion selects the newest one.
func (s *LibSQLStore) GetDefinition(ctx context.Context, name, version string) (*DefinitionRecord, error) {
	query := `SELECT id, name, version, description, definition, created_at FROM definitions WHERE name = ?`
	args := []any{name}

	if version == "" || version == LatestVersion {
		query += ` ORDER BY version_num DESC LIMIT 1`
	} else {
		num, err := ParseVersion(version)
		if err != nil {
			return nil, err
		}
		query += ` AND version_num = ?`
		args = append(args, num)
	}

	rec, err := scanDefinition(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		if version == "" {
			version = LatestVersion
		}
		return nil, storeNotFound("definition", versionKey(name, version))
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListDefinitions returns definitions ordered by name, newest version first.
func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*DefinitionRecord, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "d.name = ?")
		args = append(args, filter.Name)
	}
	if filter.LatestOnly {
		where = append(where, "d.version_num = (SELECT MAX(version_num) FROM definitions WHERE name = d.name)")
	}

	query := `SELECT d.id, d.name, d.version, d.description, d.definition, d.created_at FROM definitions d`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY d.name, d.version_num DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list definitions", err)
	}
	defer rows.Close()

	out := make([]*DefinitionRecord, 0)
	for rows.Next() {
		rec, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteDefinition removes one version, or every version when version is
// empty. Each removed version is recorded in the history.
func (s *LibSQLStore) DeleteDefinition(ctx context.Context, name, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin delete", err)
	}
	defer tx.Rollback()

	query := `SELECT version FROM definitions WHERE name = ?`
	args := []any{name}
	if version != "" {
		num, err := ParseVersion(version)
		if err != nil {
			return err
		}
		query += ` AND version_num = ?`
		args = append(args, num)
	}
	query += ` ORDER BY version_num`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return storeError("select versions", err)
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return storeError("scan version", err)
		}
		versions = append(versions, v)
	}
	rows.Close()
	if len(versions) == 0 {
		if version == "" {
			return storeNotFound("definition", name)
		}
		return storeNotFound("definition", versionKey(name, version))
	}

	del := `DELETE FROM definitions WHERE name = ?`
	if version != "" {
		del += ` AND version_num = ?`
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return storeError("delete definition", err)
	}

	now := time.Now().UTC()
	for _, v := range versions {
		if err := appendEvent(ctx, tx, &Event{Name: name, Version: v, Type: EventDeleted, Timestamp: now}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit delete", err)
	}
	return nil
}

// History returns the events of a definition name with sequence > since.
func (s *LibSQLStore) History(ctx context.Context, name string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, event_type, payload, timestamp, sequence
		 FROM definition_events WHERE name = ? AND sequence > ? ORDER BY sequence ASC`,
		name, since,
	)
	if err != nil {
		return nil, storeError("query history", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		e := &Event{}
		var version, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &version, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, storeError("scan event", err)
		}
		e.Version = version.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*DefinitionRecord, error) {
	rec := &DefinitionRecord{}
	var desc sql.NullString
	var defJSON string
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Version, &desc, &defJSON, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, storeError("scan definition", err)
	}
	rec.Description = desc.String
	if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return rec, nil
}

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s failed", op).WithCause(err)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
