// Package workers schedules a run's cohort.
//
// The pool runs entities in chunks sized by the run's concurrency. Every
// entity of a chunk starts concurrently after its stagger delay and the
// next chunk waits for the whole chunk to finish. A stop signal prevents
// new chunks from starting and interrupts pending stagger waits.
//
// The health monitor samples engine load into the metrics gauges.
package workers
