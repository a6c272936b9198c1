// Package logging holds the slog conventions used across mailmirror.
//
// Attribute keys are shared so that sync, reconcile and tool logs can be
// correlated by folder and message id:
//
//	logger := logging.WithOperation(slog.Default(), "sync")
//	logger.Info("folder synced", logging.Folder("INBOX"), logging.Mode("incremental"))
//
// Mailbox addresses are personal data. Log them through UserHash or
// Domain, never in clear.
//
// Buffer is a slog.Handler that keeps the most recent records in memory
// so the get_logs tool can return them without touching the filesystem.
package logging
