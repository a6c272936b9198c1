// Package analytics maintains mailbox statistics derived from the cache:
// totals, per-folder counts, daily volume over a trailing window and
// per-contact interaction counts.
//
// Every event is applied as a signed replay of the affected messages, so
// the incremental state always equals RecomputeFromScratch over the same
// messages.
package analytics
