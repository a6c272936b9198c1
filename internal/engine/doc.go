// Package engine assembles the cache, sync controller, mutation
// reconciler, query engine and analytics aggregator behind one facade.
//
// It owns the event fan-out: every change the controller or reconciler
// makes to the cache is forwarded to the aggregator and the cache metrics,
// and evictions reported by the store are forwarded the same way.
package engine
