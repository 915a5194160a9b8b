package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLibSQLStore("file:" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func programDef(name string, stepIDs ...string) schema.ProgramDefinition {
	def := schema.ProgramDefinition{Name: name, Description: name + " program"}
	for _, id := range stepIDs {
		def.Steps = append(def.Steps, schema.StepDefinition{ID: id, Type: schema.StepTypePass})
	}
	return def
}

func save(t *testing.T, s *LibSQLStore, def schema.ProgramDefinition) *DefinitionRecord {
	t.Helper()
	rec := &DefinitionRecord{Definition: def}
	require.NoError(t, s.SaveDefinition(context.Background(), rec))
	return rec
}

// --- Definitions ---

func TestSaveAndGetDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := save(t, s, programDef("orders", "A", "B"))
	assert.Equal(t, "orders", rec.Name)
	assert.Equal(t, "v1", rec.Version)
	assert.Equal(t, "orders program", rec.Description)
	_, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetDefinition(ctx, "orders", "v1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "orders program", got.Description)
	require.Len(t, got.Definition.Steps, 2)
	assert.Equal(t, "B", got.Definition.Steps[1].ID)
}

func TestSaveDefinition_VersionsIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A", "B"))
	third := save(t, s, programDef("orders", "A", "B", "C"))
	assert.Equal(t, "v3", third.Version)

	other := save(t, s, programDef("billing", "X"))
	assert.Equal(t, "v1", other.Version)

	latest, err := s.GetDefinition(ctx, "orders", "")
	require.NoError(t, err)
	assert.Equal(t, "v3", latest.Version)
	assert.Len(t, latest.Definition.Steps, 3)

	latest, err = s.GetDefinition(ctx, "orders", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)

	second, err := s.GetDefinition(ctx, "orders", "2")
	require.NoError(t, err)
	assert.Equal(t, "v2", second.Version)
}

func TestSaveDefinition_ExplicitName(t *testing.T) {
	s := newTestStore(t)

	rec := &DefinitionRecord{Name: "alias", Description: "custom", Definition: programDef("orders", "A")}
	require.NoError(t, s.SaveDefinition(context.Background(), rec))
	assert.Equal(t, "alias", rec.Name)
	assert.Equal(t, "custom", rec.Description)
}

func TestSaveDefinition_NameRequired(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveDefinition(context.Background(), &DefinitionRecord{Definition: programDef("", "A")})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestSaveDefinition_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveDefinition(ctx, &DefinitionRecord{Definition: programDef("orders", "A")})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := s.ListDefinitions(ctx, DefinitionFilter{Name: "orders"})
	require.NoError(t, err)
	require.Len(t, recs, 10)
	assert.Equal(t, "v10", recs[0].Version)
}

func TestGetDefinition_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDefinition(ctx, "missing", "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	save(t, s, programDef("orders", "A"))
	_, err = s.GetDefinition(ctx, "orders", "v9")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = s.GetDefinition(ctx, "orders", "vX")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestListDefinitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A", "B"))
	save(t, s, programDef("billing", "X"))

	all, err := s.ListDefinitions(ctx, DefinitionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "billing", all[0].Name)
	assert.Equal(t, "v2", all[1].Version)
	assert.Equal(t, "v1", all[2].Version)

	latest, err := s.ListDefinitions(ctx, DefinitionFilter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "v2", latest[1].Version)

	byName, err := s.ListDefinitions(ctx, DefinitionFilter{Name: "orders", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "v2", byName[0].Version)
}

func TestDeleteDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A", "B"))

	require.NoError(t, s.DeleteDefinition(ctx, "orders", "v2"))
	latest, err := s.GetDefinition(ctx, "orders", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", latest.Version)

	// Deleted version numbers are not reused.
	next := save(t, s, programDef("orders", "A", "B", "C"))
	assert.Equal(t, "v3", next.Version)

	require.NoError(t, s.DeleteDefinition(ctx, "orders", ""))
	recs, err := s.ListDefinitions(ctx, DefinitionFilter{Name: "orders"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	err = s.DeleteDefinition(ctx, "orders", "")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	err = s.DeleteDefinition(ctx, "orders", "v1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

// --- History ---

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A", "B"))
	save(t, s, programDef("billing", "X"))
	require.NoError(t, s.DeleteDefinition(ctx, "orders", "v1"))

	events, err := s.History(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, EventDefined, events[0].Type)
	assert.Equal(t, "v1", events[0].Version)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.JSONEq(t, `{"id":"`+first.ID+`"}`, string(events[0].Payload))

	assert.Equal(t, EventDeleted, events[2].Type)
	assert.Equal(t, "v1", events[2].Version)
	assert.Equal(t, int64(3), events[2].Sequence)
	assert.Nil(t, events[2].Payload)

	since, err := s.History(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, EventDeleted, since[0].Type)
}

func TestEventLogReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A"))
	save(t, s, programDef("orders", "A"))
	require.NoError(t, s.DeleteDefinition(ctx, "orders", "v2"))

	live, err := s.EventLog().Replay(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v3"}, live)

	recs, err := s.ListDefinitions(ctx, DefinitionFilter{Name: "orders"})
	require.NoError(t, err)
	assert.Len(t, recs, len(live))

	empty, err := s.EventLog().Replay(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventLogReplay_SequenceGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save(t, s, programDef("orders", "A"))
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO definition_events (name, version, event_type, sequence) VALUES ('orders', 'v2', 'defined', 5)`)
	require.NoError(t, err)

	_, err = s.EventLog().Replay(ctx, "orders")
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

// --- Maintenance ---

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	v, err := schemaVersion(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(context.Background()))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
-- leading comment
CREATE TABLE a (id INTEGER);
-- only a comment;
CREATE INDEX i ON a(id);
`)
	assert.Equal(t, []string{"CREATE TABLE a (id INTEGER)", "CREATE INDEX i ON a(id)"}, stmts)
}

func TestParseVersion(t *testing.T) {
	n, err := ParseVersion("v12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = ParseVersion("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, bad := range []string{"", "v0", "v-1", "latest"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "v7", FormatVersion(7))
}
