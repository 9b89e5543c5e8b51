package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureBus struct {
	mu     sync.Mutex
	topic  string
	events []domain.Event
	err    error
}

func (b *captureBus) Publish(_ context.Context, topic string, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic = topic
	b.events = append(b.events, ev)
	return b.err
}

func (b *captureBus) Subscribe(context.Context, string, ports.EventHandler) error { return nil }
func (b *captureBus) Close() error                                              { return nil }

func TestBusSinkStatusChanged(t *testing.T) {
	bus := &captureBus{}
	sink := NewBusSink(bus, "", zap.NewNop())

	run := &domain.ExecutionRun{
		ID:     "run-1",
		Status: domain.RunStatusStopping,
		Logs:   []domain.LogEntry{{Message: "stop requested"}},
		Threads: map[string]*domain.ThreadState{
			"acc-1": {Key: "acc-1", Status: domain.ThreadStatusRunning, Logs: []domain.LogEntry{{Message: "started"}}},
		},
	}
	sink.StatusChanged(run)

	require.Len(t, bus.events, 1)
	ev := bus.events[0]
	assert.Equal(t, domain.RunEventsTopic, bus.topic)
	assert.Equal(t, domain.EventTypeStatusChanged, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.NotEmpty(t, ev.ID)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)
	assert.Equal(t, domain.RunStatusStopping, ev.Data["status"])

	summary := ev.Data["run"].(*domain.ExecutionRun)
	assert.Empty(t, summary.Logs)
	assert.Empty(t, summary.Threads["acc-1"].Logs)
	assert.Len(t, run.Logs, 1, "the caller's run is untouched")
	assert.Len(t, run.Threads["acc-1"].Logs, 1)
}

func TestBusSinkThreadAndLog(t *testing.T) {
	bus := &captureBus{}
	sink := NewBusSink(bus, "custom", zap.NewNop())

	sink.ThreadUpdated("run-1", &domain.ThreadState{Key: "acc-1", Status: domain.ThreadStatusSuccess, Logs: []domain.LogEntry{{Message: "x"}}})
	sink.LogAppended("run-1", domain.LogEntry{ID: "l1", Message: "hello", Thread: "acc-1"})

	require.Len(t, bus.events, 2)
	assert.Equal(t, "custom", bus.topic)

	th := bus.events[0].Data["thread"].(*domain.ThreadState)
	assert.Equal(t, domain.EventTypeThreadUpdated, bus.events[0].Type)
	assert.Equal(t, domain.ThreadStatusSuccess, th.Status)
	assert.Empty(t, th.Logs)

	entry := bus.events[1].Data["entry"].(domain.LogEntry)
	assert.Equal(t, domain.EventTypeLogAppended, bus.events[1].Type)
	assert.Equal(t, "hello", entry.Message)
}

func TestBusSinkSwallowsPublishErrors(t *testing.T) {
	bus := &captureBus{err: errors.New("redis down")}
	sink := NewBusSink(bus, "", zap.NewNop())

	assert.NotPanics(t, func() {
		sink.LogAppended("run-1", domain.LogEntry{Message: "x"})
	})
	assert.Len(t, bus.events, 1)
}
