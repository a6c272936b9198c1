// Package server holds the state shared by the MCP tool handlers and the
// HTTP side of the mailmirror server.
//
// # Key Components
//
// ServerContext carries the mailbox engine, the outbound mailer, the
// in-memory log buffer and the optional metrics and audit hooks. Its
// Shutdown saves the cache snapshot and closes the remote session.
//
// HTTPServer exposes the streamable HTTP transport on /mcp together with
// the health endpoints:
//   - /healthz: liveness
//   - /readyz: readiness, including the remote connection state
//   - /healthz/detailed: uptime, cache size, pending mutations and failed folders
//
// MetricsServer serves Prometheus metrics on a separate address.
package server
