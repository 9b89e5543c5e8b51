// Package orchestrator runs workflows across account cohorts.
//
// The manager coordinates a run by:
//   - Validating run options and the workflow graph
//   - Selecting the cohort from the entity store
//   - Scheduling entities in chunks through the worker pool
//   - Tracking run, thread and log state and publishing it to the event sink
//   - Honouring cooperative stop requests
//
// Finished runs stay in memory for a retention period and are snapshotted
// to the run store.
package orchestrator
