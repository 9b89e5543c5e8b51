package engine

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
)

// Signal is the cancellation token of one run. Stop closes a channel so every
// waiter wakes immediately instead of polling.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unstopped signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Stop requests cancellation; safe to call more than once
func (s *Signal) Stop() {
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once Stop has been called
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Stopped reports whether Stop has been called
func (s *Signal) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Sleep waits for d unless the signal fires first, in which case it returns
// an AbortError naming where the wait happened. Context cancellation returns
// ctx.Err() unless the signal was stopped too, which still counts as an abort.
func Sleep(ctx context.Context, sig *Signal, d time.Duration, where string) error {
	if sig != nil && sig.Stopped() {
		return &domain.AbortError{Where: where}
	}
	if d <= 0 {
		return nil
	}

	var stop <-chan struct{}
	if sig != nil {
		stop = sig.Done()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return &domain.AbortError{Where: where}
	case <-ctx.Done():
		if sig != nil && sig.Stopped() {
			return &domain.AbortError{Where: where}
		}
		return ctx.Err()
	}
}
