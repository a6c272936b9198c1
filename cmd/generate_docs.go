package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/bridge"
	"github.com/teemow/mailmirror/internal/engine"
	"github.com/teemow/mailmirror/internal/server"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
The tools are registered against an offline engine and introspected, so the
output always matches the tool definitions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// toolCategory is a named group of tool definitions.
type toolCategory struct {
	Name  string
	Tools []mcp.Tool
}

func runGenerateDocs(outputFile string) error {
	// No connection is made; the engine only backs tool registration.
	eng, err := engine.New(bridge.New(bridge.Config{}), engine.Config{AnalyticsEnabled: true})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	serverContext, err := server.NewServerContext(context.Background(), server.Options{Engine: eng})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		_ = serverContext.Shutdown()
	}()

	categories, err := collectToolCategories(serverContext)
	if err != nil {
		return err
	}
	markdown := generateToolsMarkdown(categories)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

// collectToolCategories registers each tool group on its own server so the
// group name becomes the documentation category.
func collectToolCategories(sc *server.ServerContext) ([]toolCategory, error) {
	var categories []toolCategory
	for _, reg := range toolGroups(sc, false) {
		s := mcpserver.NewMCPServer("mailmirror", version, mcpserver.WithToolCapabilities(true))
		if err := reg.register(s); err != nil {
			return nil, fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
		serverTools := s.ListTools()
		tools := make([]mcp.Tool, 0, len(serverTools))
		for _, st := range serverTools {
			tools = append(tools, st.Tool)
		}
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		categories = append(categories, toolCategory{Name: reg.name + " Tools", Tools: tools})
	}
	return categories, nil
}

func generateToolsMarkdown(categories []toolCategory) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document lists every tool available when running mailmirror as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	sb.WriteString("## Table of Contents\n\n")
	for _, c := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(c.Name, " ", "-"))
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", c.Name, anchor))
	}
	sb.WriteString("\n")

	sb.WriteString("## Read-Only Mode\n\n")
	sb.WriteString("With `--read-only` the tools that change or send mail are not registered: ")
	sb.WriteString("`mark_email_read`, `star_email`, `move_email`, `delete_email`, `send_email` and `send_test_email`.\n\n")

	for _, c := range categories {
		sb.WriteString(fmt.Sprintf("## %s\n\n", c.Name))
		for _, tool := range c.Tools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
			if !ok {
				continue
			}

			requiredStr := "optional"
			if slices.Contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}

			sb.WriteString(fmt.Sprintf("- `%s` (%s, %s): ", name, getPropertyType(propMap), requiredStr))
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				sb.WriteString(fmt.Sprintf("%s parameter", getPropertyType(propMap)))
			}
			if enum, ok := propMap["enum"].([]string); ok && len(enum) > 0 {
				sb.WriteString(fmt.Sprintf(" (one of: %s)", strings.Join(enum, ", ")))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
