package capability

import (
	"fmt"
	"sync"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

// Registry maps capability names to implementations. Registration order is
// kept so the model sees a stable tool list.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Capability
	order []string
}

// NewRegistry creates a registry pre-populated with caps.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{items: map[string]Capability{}}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c. Missing names and duplicates are configuration errors.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("%w: nil capability", core.ErrConfiguration)
	}
	if c.Name() == "" {
		return fmt.Errorf("%w: capability without name", core.ErrConfiguration)
	}
	if c.ServiceName() == "" {
		return fmt.Errorf("%w: capability %q has no service name", core.ErrConfiguration, c.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.items[c.Name()]; dup {
		return fmt.Errorf("%w: capability %q registered twice", core.ErrConfiguration, c.Name())
	}
	r.items[c.Name()] = c
	r.order = append(r.order, c.Name())
	return nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[name]
	return c, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns the model-facing declarations in registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.items[name]))
	}
	return defs
}
