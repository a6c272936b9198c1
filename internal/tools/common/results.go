package common

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// JSONResult renders v as an indented JSON text result.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorResult turns err into a tool error whose message starts with the
// error kind, e.g. "NotFound: get message (abc@example.com): ...".
func ErrorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", mailbox.KindOf(err), err))
}

// InvalidInput is a tool error of kind InvalidInput.
func InvalidInput(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", mailbox.KindInvalidInput, fmt.Sprintf(format, args...)))
}
