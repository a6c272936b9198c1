// Package cache holds the local mirror of the remote mailbox: folders,
// messages and per-folder sync cursors.
//
// Writes are applied under a single lock, either one message at a time or as
// a Batch, so readers never observe a half-merged sync. Folder counts are
// maintained on every write and always describe the retained message set,
// including after eviction. Messages pinned by an outstanding mutation are
// never evicted.
//
// SQLiteSnapshot optionally persists the store between runs.
package cache
