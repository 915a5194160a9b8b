package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/stepflow/internal/definition"
	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// programSource is where a tool call's program comes from: an undecoded
// document, or an already decoded registry record.
type programSource struct {
	data   []byte
	format definition.Format
	def    *schema.ProgramDefinition
}

// handleCompile builds a program and returns its rendered graph.
func (s *Server) handleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, req)

	def, res := s.decode(ctx, req, true)
	if res != nil {
		return res, nil
	}

	out, err := s.loader.Build(ctx, def, s.buildOpts...)
	if err != nil {
		return toolError("compile failed", err), nil
	}
	return marshalResult(out)
}

// handleValidate reports every issue of a program without building it.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, req)

	src, res := s.source(ctx, req, true)
	if res != nil {
		return res, nil
	}

	var result *schema.ValidationResult
	if src.def != nil {
		result = s.loader.Check(src.def)
	} else {
		result = s.loader.CheckDocument(src.data, src.format)
	}

	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleDiagram draws a program in the requested format.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, req)

	format, err := diagram.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	def, res := s.decode(ctx, req, true)
	if res != nil {
		return res, nil
	}

	built, err := s.loader.Build(ctx, def, s.buildOpts...)
	if err != nil {
		return toolError("compile failed", err), nil
	}
	model, err := diagram.Build(built, def.Name)
	if err != nil {
		return toolError("diagram build failed", err), nil
	}
	out, err := s.renderer.Render(ctx, model, format)
	if err != nil {
		return toolError("diagram render failed", err), nil
	}

	if format.Binary() {
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// handleDefine checks a program and registers it as the next version.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, req)

	if s.store == nil {
		return mcp.NewToolResultError("definition registry is not configured"), nil
	}

	def, res := s.decode(ctx, req, false)
	if res != nil {
		return res, nil
	}
	if result := s.loader.Check(def); !result.Valid() {
		return toolError("definition rejected", result.ToError()), nil
	}

	rec := &store.DefinitionRecord{
		Name:        req.GetString("name", ""),
		Description: req.GetString("description", ""),
		Definition:  *def,
	}
	if err := s.store.SaveDefinition(ctx, rec); err != nil {
		return toolError("failed to store definition", err), nil
	}

	logging.LogWith(ctx, s.logger).InfoContext(ctx, "definition registered",
		"name", rec.Name, "version", rec.Version)
	if err := s.notifier.Notify(ctx, map[string]any{
		"event":   "definition.defined",
		"name":    rec.Name,
		"version": rec.Version,
	}); err != nil {
		logging.LogWith(ctx, s.logger).WarnContext(ctx, "notify failed", "error", err)
	}

	return marshalResult(map[string]any{
		"id":      rec.ID,
		"name":    rec.Name,
		"version": rec.Version,
	})
}

// handleQuery lists registered definitions or the history of one name.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("definition registry is not configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "definitions":
		return s.queryDefinitions(ctx, filter)
	case "history":
		return s.queryHistory(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *Server) queryDefinitions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DefinitionFilter{
		Limit:      extractInt(filter, "limit", 50),
		LatestOnly: extractBool(filter, "latest_only"),
	}
	if name, ok := filter["name"].(string); ok {
		df.Name = name
	}

	recs, err := s.store.ListDefinitions(ctx, df)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"definitions": recs})
}

func (s *Server) queryHistory(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	name, _ := filter["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("history query requires 'name' in filter"), nil
	}

	events, err := s.store.History(ctx, name, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// requestContext tags ctx with a fresh request id and the tool name.
func (s *Server) requestContext(ctx context.Context, req mcp.CallToolRequest) context.Context {
	ctx = logging.WithRequestID(ctx, uuid.New().String())
	logging.LogWith(ctx, s.logger).DebugContext(ctx, "tool called", "tool", req.Params.Name)
	return ctx
}

// source reads the program of a call from, in order: the definition
// object, the source text, or the registry (when allowRegistry is set).
func (s *Server) source(ctx context.Context, req mcp.CallToolRequest, allowRegistry bool) (*programSource, *mcp.CallToolResult) {
	if obj := mcp.ParseStringMap(req, "definition", nil); obj != nil {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err))
		}
		return &programSource{data: data, format: definition.FormatJSON}, nil
	}
	if text := req.GetString("source", ""); text != "" {
		// YAML is a superset of JSON, so it reads both.
		return &programSource{data: []byte(text), format: definition.FormatYAML}, nil
	}

	if !allowRegistry {
		return nil, mcp.NewToolResultError("one of definition or source is required")
	}
	name := req.GetString("name", "")
	if name == "" {
		return nil, mcp.NewToolResultError("one of definition, source or name is required")
	}
	if s.store == nil {
		return nil, mcp.NewToolResultError("definition registry is not configured")
	}
	rec, err := s.store.GetDefinition(ctx, name, req.GetString("version", ""))
	if err != nil {
		return nil, toolError("definition lookup failed", err)
	}
	return &programSource{def: &rec.Definition}, nil
}

// decode resolves the program of a call and decodes it through the loader.
func (s *Server) decode(ctx context.Context, req mcp.CallToolRequest, allowRegistry bool) (*schema.ProgramDefinition, *mcp.CallToolResult) {
	src, res := s.source(ctx, req, allowRegistry)
	if res != nil {
		return nil, res
	}
	if src.def != nil {
		return src.def, nil
	}
	def, err := s.loader.Parse(src.data, src.format)
	if err != nil {
		return nil, toolError("invalid definition", err)
	}
	return def, nil
}

// toolError renders err as a tool error. Structured errors keep their code
// and details.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if fe, ok := err.(*schema.FlowError); ok {
		if data, mErr := json.Marshal(fe); mErr == nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, data))
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	switch val := filter[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractBool(filter map[string]any, key string) bool {
	switch val := filter[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	return false
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
