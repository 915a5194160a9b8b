package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	defs   []*store.DefinitionRecord
	events []*store.Event

	saveFn func(rec *store.DefinitionRecord) error
}

func newMockStore() *mockStore {
	return &mockStore{}
}

func (m *mockStore) SaveDefinition(_ context.Context, rec *store.DefinitionRecord) error {
	if m.saveFn != nil {
		return m.saveFn(rec)
	}
	if rec.Name == "" {
		rec.Name = rec.Definition.Name
	}
	n := 1
	for _, d := range m.defs {
		if d.Name == rec.Name {
			n++
		}
	}
	rec.ID = "def-" + rec.Name
	rec.Version = store.FormatVersion(n)
	m.defs = append(m.defs, rec)
	m.events = append(m.events, &store.Event{
		Name: rec.Name, Version: rec.Version, Type: store.EventDefined, Sequence: int64(n),
	})
	return nil
}

func (m *mockStore) GetDefinition(_ context.Context, name, version string) (*store.DefinitionRecord, error) {
	var found *store.DefinitionRecord
	for _, d := range m.defs {
		if d.Name != name {
			continue
		}
		if version == "" || version == store.LatestVersion || d.Version == version {
			found = d
		}
	}
	if found == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "definition not found: %s", name)
	}
	return found, nil
}

func (m *mockStore) ListDefinitions(_ context.Context, filter store.DefinitionFilter) ([]*store.DefinitionRecord, error) {
	result := make([]*store.DefinitionRecord, 0)
	for _, d := range m.defs {
		if filter.Name != "" && d.Name != filter.Name {
			continue
		}
		result = append(result, d)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) History(_ context.Context, name string, since int64) ([]*store.Event, error) {
	result := make([]*store.Event, 0)
	for _, e := range m.events {
		if e.Name == name && e.Sequence > since {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Mock Notifier ---

type recordingNotifier struct {
	payloads []map[string]any
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, payload map[string]any) error {
	n.payloads = append(n.payloads, payload)
	return n.err
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(t *testing.T, st store.Store, n Notifier) *Server {
	t.Helper()
	s, err := NewServer(ServerDeps{Store: st, Notifier: n})
	require.NoError(t, err)
	return s
}

func minimalDefinition() map[string]any {
	return map[string]any{
		"name": "minimal",
		"steps": []any{
			map[string]any{"id": "Hello", "type": "pass", "result": map[string]any{"greeting": "hello"}},
			map[string]any{"id": "Done", "type": "succeed"},
		},
	}
}

const minimalYAML = `
name: minimal
steps:
  - id: Hello
    type: pass
  - id: Done
    type: succeed
`

// --- Compile ---

func TestCompileTool(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		StartAt string                    `json:"start_at"`
		States  map[string]map[string]any `json:"states"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "Hello", out.StartAt)
	require.Len(t, out.States, 2)
	assert.Equal(t, "Done", out.States["Hello"]["next"])
	assert.Equal(t, "succeed", out.States["Done"]["type"])
}

func TestCompileToolSource(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"source": minimalYAML,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "Hello", out["start_at"])
}

func TestCompileToolRegistry(t *testing.T) {
	ms := newMockStore()
	ms.defs = []*store.DefinitionRecord{{
		Name:    "minimal",
		Version: "v1",
		Definition: schema.ProgramDefinition{
			Name: "minimal",
			Steps: []schema.StepDefinition{
				{ID: "Only", Type: schema.StepTypeSucceed},
			},
		},
	}}
	s := newTestServer(t, ms, nil)

	result, err := s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"name": "minimal",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "Only", out["start_at"])

	result, err = s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"name":    "minimal",
		"version": "v7",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

func TestCompileToolStructuralError(t *testing.T) {
	s := newTestServer(t, nil, nil)

	def := map[string]any{
		"steps": []any{
			map[string]any{"id": "A", "type": "pass"},
			map[string]any{"type": "goto", "target": "Missing"},
		},
	}
	result, err := s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"definition": def,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeInvalidTarget)
}

func TestCompileToolMissingSource(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleCompile(context.Background(), buildRequest("stepflow.compile", map[string]any{
		"name": "minimal",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "registry is not configured")
}

// --- Validate ---

func TestValidateToolValid(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleValidate(context.Background(), buildRequest("stepflow.validate", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
}

func TestValidateToolReportsEveryIssue(t *testing.T) {
	s := newTestServer(t, nil, nil)

	source := `
steps:
  - id: A
    type: pass
  - type: goto
    target: Missing
  - id: A
    type: succeed
`
	result, err := s.handleValidate(context.Background(), buildRequest("stepflow.validate", map[string]any{
		"source": source,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Errors)
}

func TestValidateToolMalformedSource(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleValidate(context.Background(), buildRequest("stepflow.validate", map[string]any{
		"source": "steps: [",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["valid"])
}

// --- Diagram ---

func TestDiagramToolMermaid(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	text := extractText(t, result)
	assert.True(t, strings.HasPrefix(text, "graph TD"), text)
	assert.Contains(t, text, "Hello")
}

func TestDiagramToolASCII(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"definition": minimalDefinition(),
		"format":     "ascii",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Contains(t, extractText(t, result), "Done")
}

func TestDiagramToolPNG(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"definition": minimalDefinition(),
		"format":     "png",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	data, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestDiagramToolUnknownFormat(t *testing.T) {
	s := newTestServer(t, nil, nil)

	result, err := s.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"definition": minimalDefinition(),
		"format":     "bmp",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Define ---

func TestDefineTool(t *testing.T) {
	ms := newMockStore()
	n := &recordingNotifier{}
	s := newTestServer(t, ms, n)

	result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition":  minimalDefinition(),
		"description": "first cut",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "minimal", out["name"])
	assert.Equal(t, "v1", out["version"])

	require.Len(t, ms.defs, 1)
	assert.Equal(t, "first cut", ms.defs[0].Description)
	require.Len(t, ms.defs[0].Definition.Steps, 2)

	require.Len(t, n.payloads, 1)
	assert.Equal(t, "definition.defined", n.payloads[0]["event"])
	assert.Equal(t, "v1", n.payloads[0]["version"])
}

func TestDefineToolVersionIncrement(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, &recordingNotifier{})

	for i := 0; i < 2; i++ {
		result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
			"source": minimalYAML,
			"name":   "greeter",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
	}

	require.Len(t, ms.defs, 2)
	assert.Equal(t, "greeter", ms.defs[1].Name)
	assert.Equal(t, "v2", ms.defs[1].Version)
}

func TestDefineToolRejectsInvalid(t *testing.T) {
	ms := newMockStore()
	n := &recordingNotifier{}
	s := newTestServer(t, ms, n)

	def := map[string]any{
		"name": "broken",
		"steps": []any{
			map[string]any{"id": "A", "type": "pass"},
			map[string]any{"id": "A", "type": "succeed"},
		},
	}
	result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition": def,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeDuplicateID)
	assert.Empty(t, ms.defs)
	assert.Empty(t, n.payloads)
}

func TestDefineToolNotifyFailureIsNotFatal(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, &recordingNotifier{err: errors.New("no clients")})

	result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Len(t, ms.defs, 1)
}

func TestDefineToolStoreError(t *testing.T) {
	ms := newMockStore()
	ms.saveFn = func(*store.DefinitionRecord) error {
		return schema.NewError(schema.ErrCodeConflict, "version taken")
	}
	s := newTestServer(t, ms, &recordingNotifier{})

	result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeConflict)
}

func TestDefineToolMissingParams(t *testing.T) {
	s := newTestServer(t, newMockStore(), nil)

	result, err := s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"name": "minimal",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	s = newTestServer(t, nil, nil)
	result, err = s.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition": minimalDefinition(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Query ---

func TestQueryDefinitions(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, &recordingNotifier{})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "a"} {
		def := minimalDefinition()
		def["name"] = name
		result, err := s.handleDefine(ctx, buildRequest("stepflow.define", map[string]any{"definition": def}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	result, err := s.handleQuery(ctx, buildRequest("stepflow.query", map[string]any{
		"resource": "definitions",
		"filter":   map[string]any{"name": "a"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Definitions []*store.DefinitionRecord `json:"definitions"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Definitions, 2)

	result, err = s.handleQuery(ctx, buildRequest("stepflow.query", map[string]any{
		"resource": "definitions",
		"filter":   map[string]any{"limit": float64(1)},
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Definitions, 1)
}

func TestQueryHistory(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, &recordingNotifier{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := s.handleDefine(ctx, buildRequest("stepflow.define", map[string]any{
			"definition": minimalDefinition(),
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	result, err := s.handleQuery(ctx, buildRequest("stepflow.query", map[string]any{
		"resource": "history",
		"filter":   map[string]any{"name": "minimal", "since": float64(1)},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Events []*store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 2)
	assert.Equal(t, "v2", out.Events[0].Version)

	result, err = s.handleQuery(ctx, buildRequest("stepflow.query", map[string]any{
		"resource": "history",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryUnknownResource(t *testing.T) {
	s := newTestServer(t, newMockStore(), nil)

	result, err := s.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{
		"resource": "workflows",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "unknown resource type")
}

func TestExtractFilterValues(t *testing.T) {
	filter := map[string]any{"n": float64(3), "s": "7", "bad": "x", "b": true, "bs": "true"}
	assert.Equal(t, 3, extractInt(filter, "n", 0))
	assert.Equal(t, 7, extractInt(filter, "s", 0))
	assert.Equal(t, 9, extractInt(filter, "bad", 9))
	assert.Equal(t, 5, extractInt(nil, "n", 5))
	assert.True(t, extractBool(filter, "b"))
	assert.True(t, extractBool(filter, "bs"))
	assert.False(t, extractBool(filter, "missing"))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
