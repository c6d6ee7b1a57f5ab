// Package resolver maps the textual function identifiers persisted on job
// rows back to executable handlers. Jobs store only the identifier; the
// registry rehydrates it at execution time, so a database written by one
// process can be worked by another as long as both register the same names.
package resolver

import (
	"context"
	"fmt"
	"sync"
)

// ErrNotRegistered is returned when a function identifier has no handler.
// The worker records it as an ordinary job failure, subject to retry.
var ErrNotRegistered = fmt.Errorf("resolver: function not registered")

// Func is an executable job body. It receives the job's decoded parameters
// and returns a JSON-serializable value or an error.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Registry maps function identifiers to handlers. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register associates fn with the given identifier, replacing any previous
// registration.
func (r *Registry) Register(id string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[id] = fn
}

// Resolve returns the handler for id, or ErrNotRegistered.
func (r *Registry) Resolve(id string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	return fn, nil
}

// Names returns all registered identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
