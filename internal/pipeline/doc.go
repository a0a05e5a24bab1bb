// Package pipeline runs one build: it reads the inventory, resolves every catalog
// entry to an original, rebuilds stale derivatives on a bounded worker pool, reaps
// orphans when asked to and writes the build marker.
//
// Entry lifecycle:
//
//	Pending -> Resolving -> Missing
//	                     -> Resolved -> Skipped | Built | Failed
//
// A single consumer owns the counters and the expected output set; workers only
// send Results.
package pipeline
