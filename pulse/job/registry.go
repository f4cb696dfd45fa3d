package job

import (
	"sync"

	"github.com/teranos/pulsegraph/errors"
)

// Registry holds declared jobs and their bodies, keyed by name.
// Thread-safe for concurrent registration and lookup. It holds no execution
// logic; ordering and execution belong to the resolver and engine.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
	funcs map[string]Func
	order []string // registration order, used for deterministic tie-breaks
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]Spec),
		funcs: make(map[string]Func),
	}
}

// Register adds a job. Dependencies may name jobs that are registered later;
// unresolved names surface as ErrUnknownDependency when the graph is resolved.
func (r *Registry) Register(spec Spec, fn Func) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrapf(errors.ErrInvalidSpec, "job %q: nil job function", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return errors.Wrapf(errors.ErrDuplicateJob, "job %q", spec.Name)
	}
	stored := spec.clone()
	r.specs[spec.Name] = stored
	r.funcs[spec.Name] = fn
	r.order = append(r.order, spec.Name)
	return nil
}

// RegisterResolved adds a job whose dependencies must all be registered
// already. Used once the scheduler is running and the graph is live.
func (r *Registry) RegisterResolved(spec Spec, fn Func) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrapf(errors.ErrInvalidSpec, "job %q: nil job function", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return errors.Wrapf(errors.ErrDuplicateJob, "job %q", spec.Name)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := r.specs[dep]; !ok {
			return errors.WithHintf(
				errors.Wrapf(errors.ErrUnknownDependency, "job %q depends on %q", spec.Name, dep),
				"register %q before %q", dep, spec.Name)
		}
	}

	r.specs[spec.Name] = spec.clone()
	r.funcs[spec.Name] = fn
	r.order = append(r.order, spec.Name)
	return nil
}

// Remove deletes a job. Jobs that other registered jobs depend on cannot be removed.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[name]; !ok {
		return errors.Wrapf(errors.ErrUnknownJob, "job %q", name)
	}
	if dependents := r.dependentsLocked(name); len(dependents) > 0 {
		return errors.WithDetailf(
			errors.Wrapf(errors.ErrHasDependents, "job %q", name),
			"dependents: %v", dependents)
	}

	delete(r.specs, name)
	delete(r.funcs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, false
	}
	return spec.clone(), true
}

// Func returns the body registered under name, or nil.
func (r *Registry) Func(name string) Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name]
}

// Has checks if a job is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// Specs returns all specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name].clone())
	}
	return out
}

// Names returns all job names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Dependents returns the jobs that list name as a dependency, in registration order.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependentsLocked(name)
}

func (r *Registry) dependentsLocked(name string) []string {
	var out []string
	for _, n := range r.order {
		if r.specs[n].DependsOn(name) {
			out = append(out, n)
		}
	}
	return out
}
