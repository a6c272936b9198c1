// Package query answers read requests from the local cache only. Nothing
// here ever talks to the remote mailbox.
package query
