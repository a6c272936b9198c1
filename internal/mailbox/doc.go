// Package mailbox defines the vocabulary shared by the mailbox cache engine:
// folders, messages, sync cursors, pending mutations, the typed error kinds
// and the RemoteClient capability the engine consumes.
package mailbox
