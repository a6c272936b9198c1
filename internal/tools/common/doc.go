// Package common holds helpers shared by the MCP tool packages: the
// instrumentation wrapper every tool is registered through, argument
// parsing for the loosely typed JSON arguments, and result builders that
// render JSON and prefix errors with their mailbox error kind.
package common
