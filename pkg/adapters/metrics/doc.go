// Package metrics provides MetricsCollector implementations.
//
// Implementations:
//   - prometheus: counters, gauges and histograms named flowfarm_*
package metrics
