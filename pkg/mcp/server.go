// Package mcp exposes program compilation, validation, diagrams and the
// definition registry as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/definition"
	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/flow"
)

// ServerDeps holds the dependencies of a Server. Store may be nil, in which
// case the registry tools report an error.
type ServerDeps struct {
	Loader       *definition.Loader
	Store        store.Store
	Renderer     diagram.Renderer
	Notifier     Notifier
	BuildOptions []flow.BuildOption
	Logger       *slog.Logger
}

// Server wraps an MCP server with stepflow tool handlers.
type Server struct {
	loader    *definition.Loader
	store     store.Store
	renderer  diagram.Renderer
	notifier  Notifier
	buildOpts []flow.BuildOption
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all five tools registered.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	loader := deps.Loader
	if loader == nil {
		engines, err := expressions.NewEngines()
		if err != nil {
			return nil, err
		}
		if loader, err = definition.NewLoader(engines); err != nil {
			return nil, err
		}
	}

	s := &Server{
		loader:    loader,
		store:     deps.Store,
		renderer:  deps.Renderer,
		buildOpts: append([]flow.BuildOption{flow.WithLogger(logger)}, deps.BuildOptions...),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"stepflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow compiles declarative step programs into state graphs. "+
			"Use stepflow.validate to check a definition, stepflow.compile to build its graph, "+
			"stepflow.diagram to draw it, stepflow.define to register it and stepflow.query to "+
			"list registered definitions or their history."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	s.notifier = deps.Notifier
	if s.notifier == nil {
		s.notifier = NewMCPNotifier(mcpSrv)
	}
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

// sourceOptions are shared by every tool that takes a program.
func sourceOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithObject("definition", mcp.Description("Program definition object")),
		mcp.WithString("source", mcp.Description("Program definition document as YAML or JSON text")),
		mcp.WithString("name", mcp.Description("Name of a registered definition (used when no definition or source is given)")),
		mcp.WithString("version", mcp.Description("Registered version (default: latest)")),
	}
}

func compileTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Compile a program definition into its rendered state graph"),
	}, sourceOptions()...)
	return mcp.NewTool("stepflow.compile", opts...)
}

func validateTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Report every problem in a program definition without building it"),
	}, sourceOptions()...)
	return mcp.NewTool("stepflow.validate", opts...)
}

func diagramTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Draw a program. Returns Mermaid flowchart syntax, ASCII art, SVG, or base64-encoded PNG"),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii", "svg", "png"),
			mcp.Description("Output format (default: mermaid)"),
		),
	}, sourceOptions()...)
	return mcp.NewTool("stepflow.diagram", opts...)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("stepflow.define",
		mcp.WithDescription("Validate and register a program definition as a new version"),
		mcp.WithObject("definition", mcp.Description("Program definition object")),
		mcp.WithString("source", mcp.Description("Program definition document as YAML or JSON text")),
		mcp.WithString("name", mcp.Description("Registry name (default: the definition's name)")),
		mcp.WithString("description", mcp.Description("Description stored with this version")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("stepflow.query",
		mcp.WithDescription("Query registered definitions or their history"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("definitions", "history"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name, latest_only, limit, since)")),
	)
}
