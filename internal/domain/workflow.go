package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StepKind identifies the handler a node is dispatched to
type StepKind string

const (
	KindStart          StepKind = "start"
	KindEnd            StepKind = "end"
	KindSetVariables   StepKind = "set_variables"
	KindCondition      StepKind = "condition"
	KindLoop           StepKind = "loop"
	KindWait           StepKind = "wait"
	KindLog            StepKind = "log"
	KindCreateProfile  StepKind = "create_profile"
	KindStartProfile   StepKind = "start_profile"
	KindStopProfile    StepKind = "stop_profile"
	KindDeleteProfile  StepKind = "delete_profile"
	KindNavigate       StepKind = "navigate"
	KindWaitSelector   StepKind = "wait_for_selector"
	KindClick          StepKind = "click"
	KindFill           StepKind = "fill"
	KindExtractText    StepKind = "extract_text"
	KindHTTPRequest    StepKind = "http_request"
	KindReadMail       StepKind = "read_mail"
	KindDeleteMail     StepKind = "delete_mail"
	KindCheckChallenge StepKind = "check_challenge"
	KindUpdateStatus   StepKind = "update_status"
)

// StepKinds lists every kind with a built-in handler
var StepKinds = []StepKind{
	KindStart, KindEnd, KindSetVariables, KindCondition, KindLoop, KindWait,
	KindLog, KindCreateProfile, KindStartProfile, KindStopProfile,
	KindDeleteProfile, KindNavigate, KindWaitSelector, KindClick, KindFill,
	KindExtractText, KindHTTPRequest, KindReadMail, KindDeleteMail,
	KindCheckChallenge, KindUpdateStatus,
}

// Branch tags carried by edges leaving a branching node
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// WorkflowDefinition is the declarative step graph executed per entity
type WorkflowDefinition struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Nodes     []Node     `json:"nodes" yaml:"nodes"`
	Edges     []Edge     `json:"edges" yaml:"edges"`
	Defaults  NodeConfig `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// Node is one step of the graph
type Node struct {
	ID     string     `json:"id" yaml:"id"`
	Kind   StepKind   `json:"kind" yaml:"kind"`
	Label  string     `json:"label,omitempty" yaml:"label,omitempty"`
	Config NodeConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge is a directed connection, optionally tagged with the outcome that selects it
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Clone returns a deep copy so a running graph cannot be mutated by callers
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	if w == nil {
		return nil
	}
	c := *w
	c.Defaults = w.Defaults.Clone()
	c.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Config = n.Config.Clone()
		c.Nodes[i] = n
	}
	c.Edges = append([]Edge(nil), w.Edges...)
	return &c
}

// NodeConfig maps option names to values decoded from JSON or YAML
type NodeConfig map[string]any

// Clone copies the top level of the map
func (c NodeConfig) Clone() NodeConfig {
	if c == nil {
		return nil
	}
	out := make(NodeConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns defaults overlaid with c
func (c NodeConfig) Merge(defaults NodeConfig) NodeConfig {
	out := make(NodeConfig, len(c)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Has reports whether key is set to a non-empty value
func (c NodeConfig) Has(key string) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the raw (unresolved) string form of key
func (c NodeConfig) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Float returns key as a float, or def when absent or unparsable
func (c NodeConfig) Float(key string, def float64) float64 {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// Int returns key as an int, or def
func (c NodeConfig) Int(key string, def int) int {
	return int(c.Float(key, float64(def)))
}

// Bool returns key as a bool, or def
func (c NodeConfig) Bool(key string, def bool) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Seconds reads key as a number of seconds
func (c NodeConfig) Seconds(key string, def time.Duration) time.Duration {
	if !c.Has(key) {
		return def
	}
	s := c.Float(key, -1)
	if s < 0 {
		return def
	}
	return time.Duration(s * float64(time.Second))
}

// Valid reports whether k belongs to the closed set of step kinds
func (k StepKind) Valid() bool {
	for _, known := range StepKinds {
		if k == known {
			return true
		}
	}
	return false
}
