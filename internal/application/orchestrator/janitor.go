package orchestrator

import (
	"time"

	"go.uber.org/zap"
)

// StartJanitor prunes expired terminal runs every JanitorInterval until
// Shutdown.
func (m *Manager) StartJanitor() {
	go func() {
		ticker := time.NewTicker(m.opts.JanitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.janitorCh:
				return
			case now := <-ticker.C:
				m.Prune(now)
			}
		}
	}()
}

// Prune drops terminal runs that finished more than Retention before now.
// Their snapshots stay readable through the run store.
func (m *Manager) Prune(now time.Time) int {
	pruned := 0
	m.runs.Range(func(key, value any) bool {
		if value.(*runState).expired(now, m.opts.Retention) {
			m.runs.Delete(key)
			pruned++
		}
		return true
	})
	if pruned > 0 {
		m.logger.Debug("pruned expired runs", zap.Int("count", pruned))
	}
	return pruned
}
