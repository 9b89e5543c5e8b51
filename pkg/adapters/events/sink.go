package events

import (
	"context"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BusSink publishes orchestrator notifications to an event bus
type BusSink struct {
	bus     ports.EventBus
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewBusSink creates a sink publishing to topic (domain.RunEventsTopic when empty)
func NewBusSink(bus ports.EventBus, topic string, logger *zap.Logger) *BusSink {
	if topic == "" {
		topic = domain.RunEventsTopic
	}
	return &BusSink{
		bus:     bus,
		topic:   topic,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// StatusChanged publishes the run summary without its logs
func (s *BusSink) StatusChanged(run *domain.ExecutionRun) {
	summary := run.Clone()
	summary.Logs = nil
	for _, th := range summary.Threads {
		th.Logs = nil
	}
	s.publish(domain.EventTypeStatusChanged, run.ID, map[string]any{
		"status": run.Status,
		"run":    summary,
	})
}

// ThreadUpdated publishes a thread state without its logs
func (s *BusSink) ThreadUpdated(runID string, thread *domain.ThreadState) {
	th := thread.Clone()
	th.Logs = nil
	s.publish(domain.EventTypeThreadUpdated, runID, map[string]any{
		"thread": th,
	})
}

// LogAppended publishes one log entry
func (s *BusSink) LogAppended(runID string, entry domain.LogEntry) {
	s.publish(domain.EventTypeLogAppended, runID, map[string]any{
		"entry": entry,
	})
}

func (s *BusSink) publish(eventType domain.EventType, runID string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := s.bus.Publish(ctx, s.topic, event); err != nil {
		s.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
