// Package system_tools provides the operational MCP tools:
// get_connection_status, clear_cache and get_logs.
package system_tools
