package domain

import "time"

// EventType names an event published about a run
type EventType string

const (
	EventTypeStatusChanged EventType = "run.status_changed"
	EventTypeThreadUpdated EventType = "run.thread_updated"
	EventTypeLogAppended   EventType = "run.log_appended"
)

// RunEventsTopic is the bus topic all run events are published on
const RunEventsTopic = "run.events"

// Event is the envelope carried by the event bus
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
