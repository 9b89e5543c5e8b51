package ports

import (
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
)

// NopMetrics discards all metrics
type NopMetrics struct{}

func (NopMetrics) RecordRunStarted() {}
func (NopMetrics) RecordRunFinished(string, time.Duration) {}
func (NopMetrics) RecordThreadFinished(string, time.Duration) {}
func (NopMetrics) ObserveStepDuration(string, time.Duration) {}
func (NopMetrics) IncStepFailures(string, string) {}
func (NopMetrics) ObserveStaggerWait(time.Duration) {}
func (NopMetrics) SetActiveRuns(int) {}
func (NopMetrics) SetRunningThreads(int) {}

// NopSink discards all run notifications
type NopSink struct{}

func (NopSink) StatusChanged(*domain.ExecutionRun) {}
func (NopSink) ThreadUpdated(string, *domain.ThreadState) {}
func (NopSink) LogAppended(string, domain.LogEntry) {}
