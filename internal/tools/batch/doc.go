// Package batch runs message mutations over one or many ids.
//
// Write tools accept an emailId that is either a single id or an array.
// ProcessBatch applies the mutation to every id with bounded concurrency
// and collects per-id outcomes, so a failure on one id leaves the rest
// unaffected.
package batch
