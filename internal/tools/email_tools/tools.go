package email_tools

import (
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/server"
)

// RegisterEmailTools registers the message tools with the MCP server.
// In read-only mode only the read and search tools are registered.
func RegisterEmailTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	registerReadTools(s, sc)

	// Write operations
	if !readOnly {
		registerMutationTools(s, sc)
		registerSendTools(s, sc)
	}

	return nil
}
