package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for registry operations.
var (
	ErrDuplicateWorkflow = errors.New("workflow already registered")
	ErrUnknownWorkflow   = errors.New("workflow not registered")
)

// Registry holds registered workflow descriptors keyed by name. Registration
// normally happens during supervisor startup, but the registry does not rely
// on that: all access is guarded internally, so concurrent lookups (and late
// registrations) are safe.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Descriptor
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		workflows: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor to the registry. Registering a name that already
// exists fails with ErrDuplicateWorkflow rather than overwriting.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return errors.New("workflow name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("workflow %q has no handler", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateWorkflow, d.Name)
	}
	r.workflows[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name, or ErrUnknownWorkflow.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}
	return d, nil
}

// List returns all registered descriptors, sorted by name for a stable API
// response.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.workflows))
	for _, d := range r.workflows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
