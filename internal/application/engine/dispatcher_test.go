package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failureMetrics struct {
	ports.NopMetrics
	mu       sync.Mutex
	failures map[string]int
}

func (m *failureMetrics) IncStepFailures(kind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[kind+"/"+reason]++
}

func newTestDispatcher(t *testing.T, kind domain.StepKind, h HandlerFunc) (*Dispatcher, *failureMetrics) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(kind, h))
	metrics := &failureMetrics{}
	return NewDispatcher(reg, metrics, zap.NewNop(), time.Second), metrics
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("teleport", HandlerFunc(func(context.Context, *Context, domain.Node) (Outcome, error) {
		return OutcomeNone, nil
	})))
	assert.Error(t, reg.Register(domain.KindLog, nil))
	assert.Empty(t, reg.Kinds())
}

func TestDispatchUnknownKindIsSkipped(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, zap.NewNop(), time.Second)

	var logs []string
	ec := NewContext(testAccount(), nil, nil, func(level domain.LogLevel, msg string) {
		logs = append(logs, msg)
	})
	out, err := d.Dispatch(context.Background(), ec, domain.Node{ID: "n1", Kind: "teleport"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "teleport")
}

func TestDispatchTimeout(t *testing.T) {
	d, metrics := newTestDispatcher(t, domain.KindWait, func(ctx context.Context, _ *Context, _ domain.Node) (Outcome, error) {
		<-ctx.Done()
		return OutcomeNone, ctx.Err()
	})

	node := domain.Node{ID: "slow", Kind: domain.KindWait, Config: domain.NodeConfig{"timeout": 0.05}}
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)

	var te *domain.StepTimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "slow", te.NodeID)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Equal(t, 1, metrics.failures["wait/timeout"])
}

func TestDispatchRetries(t *testing.T) {
	calls := 0
	d, _ := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls++
		if calls < 3 {
			return OutcomeNone, errors.New("flaky")
		}
		return OutcomeTrue, nil
	})

	node := domain.Node{ID: "c", Kind: domain.KindClick, Config: domain.NodeConfig{"retries": 2.0, "retry_delay": 0.0}}
	out, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, out)
	assert.Equal(t, 3, calls)
}

func TestDispatchRetriesExhausted(t *testing.T) {
	calls := 0
	d, metrics := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls++
		return OutcomeNone, errors.New("element missing")
	})

	node := domain.Node{ID: "c", Kind: domain.KindClick, Config: domain.NodeConfig{"retries": 1.0, "retry_delay": 0.0}}
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)

	var ee *domain.StepExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "c", ee.NodeID)
	assert.Contains(t, err.Error(), "element missing")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, metrics.failures["click/error"])
}

func TestDispatchContinueOnError(t *testing.T) {
	d, _ := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		return OutcomeNone, errors.New("boom")
	})

	node := domain.Node{ID: "c", Kind: domain.KindClick, Config: domain.NodeConfig{"continue_on_error": true}}
	out, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFalse, out)
}

func TestDispatchAbortIsNotRetried(t *testing.T) {
	calls := 0
	d, metrics := newTestDispatcher(t, domain.KindWait, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls++
		return OutcomeNone, &domain.AbortError{Where: "wait step"}
	})

	node := domain.Node{ID: "w", Kind: domain.KindWait, Config: domain.NodeConfig{"retries": 3.0, "continue_on_error": true}}
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)
	assert.True(t, domain.IsAbort(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, metrics.failures)
}

func TestDispatchPanicBecomesError(t *testing.T) {
	d, _ := newTestDispatcher(t, domain.KindLog, func(context.Context, *Context, domain.Node) (Outcome, error) {
		panic("bad handler")
	})

	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), domain.Node{ID: "l", Kind: domain.KindLog})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")
}

func TestDispatchJitter(t *testing.T) {
	d, _ := newTestDispatcher(t, domain.KindLog, func(context.Context, *Context, domain.Node) (Outcome, error) {
		return OutcomeNone, nil
	})
	d.random = func() float64 { return 1 }

	node := domain.Node{ID: "l", Kind: domain.KindLog, Config: domain.NodeConfig{"delay_min": 0.01, "delay_max": 0.05}}
	start := time.Now()
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDispatchJitterInterruptedByStop(t *testing.T) {
	d, _ := newTestDispatcher(t, domain.KindLog, func(context.Context, *Context, domain.Node) (Outcome, error) {
		return OutcomeNone, nil
	})

	sig := NewSignal()
	sig.Stop()
	node := domain.Node{ID: "l", Kind: domain.KindLog, Config: domain.NodeConfig{"delay_min": 5.0}}
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, sig, nil), node)
	assert.True(t, domain.IsAbort(err))
}

func TestDispatchTimeoutWaitsForHandlerBeforeRetry(t *testing.T) {
	var running, peak, calls atomic.Int32
	d, _ := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls.Add(1)
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		time.Sleep(150 * time.Millisecond)
		return OutcomeNone, nil
	})

	node := domain.Node{ID: "stuck", Kind: domain.KindClick, Config: domain.NodeConfig{
		"timeout": 0.02, "retries": 2.0, "retry_delay": 0.0,
	}}
	_, err := d.Dispatch(context.Background(), NewContext(testAccount(), nil, nil, nil), node)

	var te *domain.StepTimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), peak.Load(), "attempts never overlap")
	assert.Zero(t, running.Load(), "no attempt outlives Dispatch")
}

func TestDispatchNoRetryWhileHandlerRunning(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	d, _ := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls.Add(1)
		<-release
		return OutcomeNone, nil
	})
	d.grace = 30 * time.Millisecond

	var logs []string
	ec := NewContext(testAccount(), nil, nil, func(_ domain.LogLevel, msg string) { logs = append(logs, msg) })
	node := domain.Node{ID: "hung", Kind: domain.KindClick, Config: domain.NodeConfig{
		"timeout": 0.02, "retries": 3.0, "retry_delay": 0.0,
	}}

	start := time.Now()
	_, err := d.Dispatch(context.Background(), ec, node)

	var te *domain.StepTimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, strings.Join(logs, "\n"), "still running")
}

func TestDispatchResolvesTokenOptions(t *testing.T) {
	calls := 0
	d, _ := newTestDispatcher(t, domain.KindClick, func(context.Context, *Context, domain.Node) (Outcome, error) {
		calls++
		return OutcomeNone, errors.New("flaky")
	})

	ec := NewContext(testAccount(), nil, nil, nil)
	ec.Set("tries", "2")
	ec.Set("pause", "0")
	ec.Set("soft", "true")

	node := domain.Node{ID: "c", Kind: domain.KindClick, Config: domain.NodeConfig{
		"retries": "{{tries}}", "retry_delay": "{{pause}}", "continue_on_error": "{{soft}}",
	}}
	out, err := d.Dispatch(context.Background(), ec, node)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFalse, out)
	assert.Equal(t, 3, calls)
}
