// Package reconcile applies user mutations optimistically to the cache and
// confirms or rolls them back against the remote mailbox.
//
// Mutations on one message id are serialized. While a mutation is pending
// the message is pinned in the cache, which keeps sync merges and eviction
// away from it until the remote has answered.
package reconcile
