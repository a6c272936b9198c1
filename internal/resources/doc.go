// Package resources exposes read-only views of the mirrored mailbox as MCP
// resources. Clients can read them to learn the account, connection state
// and folder layout without calling a tool.
package resources
