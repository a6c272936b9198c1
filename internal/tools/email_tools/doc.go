// Package email_tools exposes the cached mailbox through MCP tools.
//
// Reading (served from the local cache):
//   - get_emails: List a folder page by page, newest first
//   - get_email_by_id: Get one message; the body is fetched on first access
//   - search_emails: Filter by text, sender, recipient, dates and flags
//
// Changing messages (applied locally first, then on the server):
//   - mark_email_read: Set or clear the read flag
//   - star_email: Set or clear the starred flag
//   - move_email: Move to another folder
//   - delete_email: Delete permanently
//
// The change tools accept a single emailId or an array of ids. A batch
// runs with bounded concurrency and reports a result per id.
//
// Sending (through SMTP):
//   - send_email: Compose and send a message with optional attachments
//   - send_test_email: Send a short message to check delivery
//
// Errors are returned as tool errors prefixed with their kind, for
// example "NotFound: get message: NotFound (abc@example.com)".
package email_tools
