package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

// StatsSource reports engine load
type StatsSource interface {
	Stats() Stats
}

// Stats is a point-in-time view of engine load
type Stats struct {
	ActiveRuns     int `json:"active_runs"`
	RunningThreads int `json:"running_threads"`
	RetainedRuns   int `json:"retained_runs"`
}

// HealthMonitor periodically samples engine load into metrics
type HealthMonitor struct {
	source   StatsSource
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	last    HealthStatus
	deps    map[string]DependencyCheck
}

// DependencyCheck checks one dependency, such as a store connection
type DependencyCheck func(ctx context.Context) error

// HealthStatus represents the last sampled engine status
type HealthStatus struct {
	Stats
	Healthy   bool              `json:"healthy"`
	Failing   map[string]string `json:"failing,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(source StatsSource, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{
		source:   source,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		last:     HealthStatus{Healthy: true, Timestamp: time.Now()},
		deps:     make(map[string]DependencyCheck),
	}
}

// AddDependency registers a dependency check run on every health check
func (h *HealthMonitor) AddDependency(name string, check DependencyCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[name] = check
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.run(stopCh)
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stopCh := h.stopCh
	h.mu.Unlock()

	close(stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check samples the source and dependencies, records gauges and stores the result
func (h *HealthMonitor) Check() HealthStatus {
	status := HealthStatus{
		Stats:     h.source.Stats(),
		Healthy:   true,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	deps := make(map[string]DependencyCheck, len(h.deps))
	for name, check := range h.deps {
		names = append(names, name)
		deps[name] = check
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := deps[name](ctx)
		cancel()
		if err != nil {
			if status.Failing == nil {
				status.Failing = make(map[string]string)
			}
			status.Failing[name] = err.Error()
			status.Healthy = false
		}
	}

	h.metrics.SetActiveRuns(status.ActiveRuns)
	h.metrics.SetRunningThreads(status.RunningThreads)

	h.logger.Debug("engine health check",
		zap.Int("active_runs", status.ActiveRuns),
		zap.Int("running_threads", status.RunningThreads),
		zap.Int("retained_runs", status.RetainedRuns),
		zap.Bool("healthy", status.Healthy))

	if !status.Healthy {
		h.logger.Warn("engine is unhealthy", zap.Any("failing", status.Failing))
	}

	h.mu.Lock()
	h.last = status
	h.mu.Unlock()
	return status
}

// GetStatus returns the last sampled status
func (h *HealthMonitor) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// IsHealthy returns true if the engine is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
