package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes registry notifications to connected clients.
type Notifier interface {
	Notify(ctx context.Context, payload map[string]any) error
}

// MCPNotifier implements Notifier by broadcasting an MCP log message.
type MCPNotifier struct {
	mcpServer *server.MCPServer
}

// NewMCPNotifier creates a notifier that broadcasts through mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer}
}

// Notify sends payload to every connected client. Best-effort: clients
// without an active session are skipped.
func (n *MCPNotifier) Notify(_ context.Context, payload map[string]any) error {
	n.mcpServer.SendNotificationToAllClients("notifications/message", payload)
	return nil
}
