package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAborted is matched by errors.Is for every AbortError
	ErrAborted = errors.New("aborted")

	// ErrNotFound is returned by stores and the orchestrator for unknown ids
	ErrNotFound = errors.New("not found")

	// ErrPoolEmpty is returned when a proxy pool has nothing left to hand out
	ErrPoolEmpty = errors.New("proxy pool empty")
)

// ConfigError reports a missing or invalid run option or graph
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// StepTimeoutError reports a handler that exceeded its timeout
type StepTimeoutError struct {
	NodeID  string
	Kind    StepKind
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s (%s) timed out after %s", e.NodeID, e.Kind, e.Timeout)
}

// StepExecutionError wraps a handler-internal failure
type StepExecutionError struct {
	NodeID string
	Kind   StepKind
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.NodeID, e.Kind, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// AbortError is raised at a suspension point once cancellation is observed
type AbortError struct {
	Where string
}

func (e *AbortError) Error() string {
	if e.Where == "" {
		return "aborted by user"
	}
	return "aborted by user during " + e.Where
}

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// IsAbort reports whether err carries an AbortError
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsConfigError reports whether err carries a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
