package lookup

import (
	"context"
	"maps"
	"sync"
)

// Variables is the process-instance variable scope visible to lookup scripts.
// Scripts may read and update variables while a form is being resolved.
type Variables struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariables wraps a shallow copy of values.
func NewVariables(values map[string]any) *Variables {
	cloned := maps.Clone(values)
	if cloned == nil {
		cloned = make(map[string]any)
	}
	return &Variables{values: cloned}
}

// Get returns the named variable.
func (v *Variables) Get(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.values[name]
	return value, ok
}

// Set stores the named variable.
func (v *Variables) Set(name string, value any) {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[name] = value
}

// Snapshot returns a copy of the current variables.
func (v *Variables) Snapshot() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.values)
}

type variablesKey struct{}

// WithVariables attaches the variable scope to ctx.
func WithVariables(ctx context.Context, vars *Variables) context.Context {
	return context.WithValue(ctx, variablesKey{}, vars)
}

// VariablesFromContext returns the variable scope attached to ctx, or nil.
func VariablesFromContext(ctx context.Context) *Variables {
	if ctx == nil {
		return nil
	}
	vars, _ := ctx.Value(variablesKey{}).(*Variables)
	return vars
}
