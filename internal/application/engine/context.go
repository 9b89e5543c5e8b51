package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// LogFunc appends a line to the owning thread's log
type LogFunc func(level domain.LogLevel, message string)

// Session holds the automation handles opened during one entity run
type Session struct {
	ProfileID string
	Endpoint  string
	Page      ports.Page
	Mail      ports.MailSession
}

type cleanup struct {
	key string
	fn  func(context.Context) error
}

// Context is the per-entity state threaded through a graph walk. A Context
// belongs to exactly one entity run and is never shared.
type Context struct {
	Account domain.Account
	Proxy   *domain.Proxy

	signal *Signal
	log    LogFunc

	mu       sync.Mutex
	session  Session
	vars     map[string]string
	counters map[string]int
	cleanups []cleanup
}

// NewContext creates the context for one entity run
func NewContext(account domain.Account, proxy *domain.Proxy, signal *Signal, log LogFunc) *Context {
	if signal == nil {
		signal = NewSignal()
	}
	if log == nil {
		log = func(domain.LogLevel, string) {}
	}
	return &Context{
		Account:  account,
		Proxy:    proxy,
		signal:   signal,
		log:      log,
		vars:     make(map[string]string),
		counters: make(map[string]int),
	}
}

// Signal returns the run's cancellation token
func (c *Context) Signal() *Signal {
	return c.signal
}

// Sleep is a cancellable wait bound to the run's signal
func (c *Context) Sleep(ctx context.Context, d time.Duration, where string) error {
	return Sleep(ctx, c.signal, d, where)
}

// Logf appends a formatted line to the thread log
func (c *Context) Logf(level domain.LogLevel, format string, args ...any) {
	c.log(level, fmt.Sprintf(format, args...))
}

// Set stores a variable
func (c *Context) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Get returns a variable from the free-form map only
func (c *Context) Get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

// Vars returns a copy of the free-form variables
func (c *Context) Vars() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Lookup resolves one name: reserved account fields first, then variables.
// Unknown names resolve to "".
func (c *Context) Lookup(name string) string {
	if v, ok := c.reserved(name); ok {
		return v
	}
	v, _ := c.Get(name)
	return v
}

// Resolve substitutes every {{name}} token in s
func (c *Context) Resolve(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		return c.Lookup(m[1])
	})
}

// ResolveOption returns the resolved string value of a node option
func (c *Context) ResolveOption(cfg domain.NodeConfig, key string) string {
	return c.Resolve(cfg.String(key))
}

// ResolveFloat reads a numeric option whose value may be a {{token}}
func (c *Context) ResolveFloat(cfg domain.NodeConfig, key string, def float64) float64 {
	return c.resolved(cfg, key).Float(key, def)
}

// ResolveInt reads an integer option whose value may be a {{token}}
func (c *Context) ResolveInt(cfg domain.NodeConfig, key string, def int) int {
	return c.resolved(cfg, key).Int(key, def)
}

// ResolveSeconds reads a duration in seconds whose value may be a {{token}}
func (c *Context) ResolveSeconds(cfg domain.NodeConfig, key string, def time.Duration) time.Duration {
	return c.resolved(cfg, key).Seconds(key, def)
}

// ResolveBool reads a boolean option whose value may be a {{token}}
func (c *Context) ResolveBool(cfg domain.NodeConfig, key string, def bool) bool {
	return c.resolved(cfg, key).Bool(key, def)
}

// resolved returns cfg, or a one-entry copy holding the substituted value
// of key when it is a string carrying tokens
func (c *Context) resolved(cfg domain.NodeConfig, key string) domain.NodeConfig {
	s, ok := cfg[key].(string)
	if !ok || !strings.Contains(s, "{{") {
		return cfg
	}
	return domain.NodeConfig{key: c.Resolve(s)}
}

func (c *Context) reserved(name string) (string, bool) {
	a := c.Account
	switch name {
	case "id", "account_id":
		return a.ID, true
	case "email":
		return a.Email, true
	case "password":
		return a.Password, true
	case "recovery_email":
		return a.RecoveryEmail, true
	case "phone":
		return a.Phone, true
	case "group":
		return a.Group, true
	case "status":
		return a.Status, true
	case "client_id":
		return a.ClientID, true
	case "refresh_token":
		return a.RefreshToken, true
	case "profile_id":
		return c.Session().ProfileID, true
	}

	if !strings.HasPrefix(name, "proxy") {
		return "", false
	}
	p := c.Proxy
	if p == nil {
		switch name {
		case "proxy", "proxy_host", "proxy_port", "proxy_user", "proxy_pass":
			return "", true
		}
		return "", false
	}
	switch name {
	case "proxy":
		return p.URL(), true
	case "proxy_host":
		return p.Host, true
	case "proxy_port":
		return strconv.Itoa(p.Port), true
	case "proxy_user":
		return p.Username, true
	case "proxy_pass":
		return p.Password, true
	}
	return "", false
}

// IncrementCounter bumps the counter owned by a node and returns the new value
func (c *Context) IncrementCounter(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[nodeID]++
	return c.counters[nodeID]
}

// ResetCounter clears a node's counter
func (c *Context) ResetCounter(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, nodeID)
}

// Counter returns the current value of a node's counter
func (c *Context) Counter(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[nodeID]
}

// Session returns a copy of the session handles
func (c *Context) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// UpdateSession mutates the session handles under the context lock
func (c *Context) UpdateSession(fn func(s *Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.session)
}

// Defer registers a release action under key, replacing an existing one
func (c *Context) Defer(key string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cleanups {
		if c.cleanups[i].key == key {
			c.cleanups[i].fn = fn
			return
		}
	}
	c.cleanups = append(c.cleanups, cleanup{key: key, fn: fn})
}

// Undefer drops a release action that a step already performed
func (c *Context) Undefer(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cleanups {
		if c.cleanups[i].key == key {
			c.cleanups = append(c.cleanups[:i], c.cleanups[i+1:]...)
			return
		}
	}
}

// Release runs pending release actions in reverse registration order and
// returns the first error.
func (c *Context) Release(ctx context.Context) error {
	c.mu.Lock()
	pending := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var first error
	for i := len(pending) - 1; i >= 0; i-- {
		if err := pending[i].fn(ctx); err != nil && first == nil {
			first = fmt.Errorf("release %s: %w", pending[i].key, err)
		}
	}
	return first
}
