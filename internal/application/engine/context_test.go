package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() domain.Account {
	return domain.Account{
		ID:       "acc-1",
		Email:    "user@example.com",
		Password: "secret",
		Group:    "batch-a",
		Status:   "new",
	}
}

func TestContextResolve(t *testing.T) {
	proxy := &domain.Proxy{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "p"}
	ec := NewContext(testAccount(), proxy, nil, nil)
	ec.Set("otp", "123456")
	ec.Set("email", "shadowed@example.com")

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"{{email}}", "user@example.com"},
		{"{{ password }}", "secret"},
		{"code={{otp}}", "code=123456"},
		{"{{missing}}", ""},
		{"{{proxy_host}}:{{proxy_port}}", "10.0.0.1:8080"},
		{"{{proxy}}", "http://u:p@10.0.0.1:8080"},
		{"{{group}}/{{status}}", "batch-a/new"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ec.Resolve(tt.in), tt.in)
	}
}

func TestContextResolveWithoutProxy(t *testing.T) {
	ec := NewContext(testAccount(), nil, nil, nil)
	ec.Set("proxy_note", "kept")

	assert.Equal(t, "", ec.Resolve("{{proxy}}"))
	assert.Equal(t, "", ec.Resolve("{{proxy_host}}"))
	assert.Equal(t, "kept", ec.Resolve("{{proxy_note}}"))
}

func TestContextResolveTypedOptions(t *testing.T) {
	ec := NewContext(testAccount(), nil, nil, nil)
	ec.Set("secs", "0.5")
	ec.Set("n", "3")
	ec.Set("flag", "true")

	cfg := domain.NodeConfig{
		"raw":     2.5,
		"seconds": "{{secs}}",
		"max":     "{{ n }}",
		"keep":    "{{flag}}",
		"blank":   "{{missing}}",
		"text":    "12",
	}

	assert.Equal(t, 2.5, ec.ResolveFloat(cfg, "raw", 0))
	assert.Equal(t, 0.5, ec.ResolveFloat(cfg, "seconds", 0))
	assert.Equal(t, 500*time.Millisecond, ec.ResolveSeconds(cfg, "seconds", time.Minute))
	assert.Equal(t, 3, ec.ResolveInt(cfg, "max", 1))
	assert.Equal(t, 12, ec.ResolveInt(cfg, "text", 1))
	assert.True(t, ec.ResolveBool(cfg, "keep", false))

	assert.Equal(t, 7, ec.ResolveInt(cfg, "blank", 7), "an empty substitution keeps the default")
	assert.Equal(t, time.Minute, ec.ResolveSeconds(cfg, "blank", time.Minute))
	assert.Equal(t, 4, ec.ResolveInt(cfg, "absent", 4))
	assert.Equal(t, "{{secs}}", cfg["seconds"], "the node config is not rewritten")
}

func TestContextCounters(t *testing.T) {
	ec := NewContext(testAccount(), nil, nil, nil)

	assert.Equal(t, 1, ec.IncrementCounter("loop"))
	assert.Equal(t, 2, ec.IncrementCounter("loop"))
	assert.Equal(t, 1, ec.IncrementCounter("other"))
	ec.ResetCounter("loop")
	assert.Equal(t, 0, ec.Counter("loop"))
	assert.Equal(t, 1, ec.Counter("other"))
}

func TestContextRelease(t *testing.T) {
	ec := NewContext(testAccount(), nil, nil, nil)

	var order []string
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}

	ec.Defer("profile.delete", record("delete", nil))
	ec.Defer("profile.stop", record("stop", errors.New("stop failed")))
	ec.Defer("page.close", record("close", errors.New("close failed")))
	ec.Defer("mail.close", record("mail", nil))
	ec.Undefer("mail.close")
	ec.Defer("page.close", record("close-replaced", errors.New("close failed")))

	err := ec.Release(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page.close")
	assert.Equal(t, []string{"close-replaced", "stop", "delete"}, order)

	order = nil
	require.NoError(t, ec.Release(context.Background()))
	assert.Empty(t, order, "release actions run once")
}

func TestContextLogf(t *testing.T) {
	var got []string
	ec := NewContext(testAccount(), nil, nil, func(level domain.LogLevel, msg string) {
		got = append(got, string(level)+":"+msg)
	})
	ec.Logf(domain.LogLevelWarn, "attempt %d", 2)
	assert.Equal(t, []string{"warn:attempt 2"}, got)
}
