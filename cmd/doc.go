// Package cmd implements the command-line interface for mailmirror.
//
// Commands:
//   - serve: Start the MCP server (the default without a subcommand)
//   - sync: Run one sync round against the Bridge and persist the cache
//   - login: Store the Bridge password in the system keyring
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
package cmd
