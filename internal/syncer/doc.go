// Package syncer keeps the local cache in step with the remote mailbox.
//
// Controller runs folder syncs on demand. Concurrent requests for the same
// folder share one in-flight sync. Scheduler drives the Controller on a
// timer and backs off exponentially while the remote keeps failing.
package syncer
