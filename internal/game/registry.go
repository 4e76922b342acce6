package game

import (
	"fmt"
	"sync"

	"groupgames/internal/apperr"
)

// Registry holds the definition for each supported game type.
type Registry struct {
	mu   sync.RWMutex
	defs map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]Definition)}
}

// Register adds a definition. Panics on duplicate or unsupported types.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := d.Info().Type
	if !t.Known() {
		panic(fmt.Sprintf("game type %q is not supported", t))
	}
	if _, exists := r.defs[t]; exists {
		panic(fmt.Sprintf("game type %q already registered", t))
	}
	r.defs[t] = d
}

// Describe returns the definition for t.
func (r *Registry) Describe(t Type) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[t]
	if !ok {
		return nil, apperr.Validation(apperr.CodeUnknownGameType, fmt.Sprintf("unknown game type %q", t))
	}
	return d, nil
}

// List returns info for all registered types in declaration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.defs))
	for _, t := range Types {
		if d, ok := r.defs[t]; ok {
			infos = append(infos, d.Info())
		}
	}
	return infos
}
