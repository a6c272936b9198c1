// Package folder_tools provides MCP tools for folders and syncing:
// get_folders, sync_folders and sync_emails.
package folder_tools
