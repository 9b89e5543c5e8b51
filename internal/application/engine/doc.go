// Package engine walks a workflow graph for a single entity.
//
// The engine is made of:
//   - Graph: a compiled, read-only view of a WorkflowDefinition
//   - Context: the per-entity variable bag and session handles
//   - Registry and Dispatcher: kind -> handler lookup wrapped with timeout,
//     retry and post-step jitter
//   - Runner: the edge-following loop
//   - Signal: the per-run cancellation token observed by every suspension point
package engine
