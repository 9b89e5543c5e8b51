// Package events provides event bus implementations and the sink that
// turns orchestrator notifications into bus events.
//
// Implementations:
//   - redis: Redis Streams, every subscriber reads the whole stream
//   - memory: In-process fan-out with per-subscriber ordered delivery
package events
