package cmd

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/analytics_tools"
	"github.com/teemow/mailmirror/internal/tools/email_tools"
	"github.com/teemow/mailmirror/internal/tools/folder_tools"
	"github.com/teemow/mailmirror/internal/tools/system_tools"
)

type toolRegistration struct {
	name     string
	register func(s *mcpserver.MCPServer) error
}

// toolGroups lists every tool group in documentation order.
func toolGroups(sc *server.ServerContext, readOnly bool) []toolRegistration {
	return []toolRegistration{
		{
			name: "Email",
			register: func(s *mcpserver.MCPServer) error {
				return email_tools.RegisterEmailTools(s, sc, readOnly)
			},
		},
		{
			name: "Folder",
			register: func(s *mcpserver.MCPServer) error {
				return folder_tools.RegisterFolderTools(s, sc)
			},
		},
		{
			name: "Analytics",
			register: func(s *mcpserver.MCPServer) error {
				return analytics_tools.RegisterAnalyticsTools(s, sc)
			},
		},
		{
			name: "System",
			register: func(s *mcpserver.MCPServer) error {
				return system_tools.RegisterSystemTools(s, sc)
			},
		},
	}
}

func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	for _, reg := range toolGroups(sc, readOnly) {
		if err := reg.register(mcpSrv); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return nil
}
