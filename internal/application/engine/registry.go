package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/flowfarm/internal/domain"
)

// Handler executes one step kind
type Handler interface {
	Execute(ctx context.Context, ec *Context, node domain.Node) (Outcome, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ec *Context, node domain.Node) (Outcome, error)

// Execute calls f
func (f HandlerFunc) Execute(ctx context.Context, ec *Context, node domain.Node) (Outcome, error) {
	return f(ctx, ec, node)
}

// Registry maps the closed set of step kinds to their handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.StepKind]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.StepKind]Handler)}
}

// Register binds a handler to a known kind
func (r *Registry) Register(kind domain.StepKind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown step kind: %s", kind)
	}
	if h == nil {
		return fmt.Errorf("nil handler for step kind: %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	return nil
}

// MustRegister is Register for static wiring
func (r *Registry) MustRegister(kind domain.StepKind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for kind
func (r *Registry) Lookup(kind domain.StepKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists registered kinds in name order
func (r *Registry) Kinds() []domain.StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.StepKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
