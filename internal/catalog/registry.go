package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Action is one registered event type.
type Action struct {
	Name     string
	Handler  Handler
	Pullable bool
}

// Registry maps action names to their handlers and pull eligibility.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Panics on duplicate or empty names to surface misconfiguration early.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.Name == "" {
		panic("catalog: action name is required")
	}
	if _, exists := r.actions[a.Name]; exists {
		panic(fmt.Sprintf("catalog: duplicate action %q", a.Name))
	}
	if a.Handler == nil {
		a.Handler = NoOp{}
	}
	r.actions[a.Name] = a
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, error) {
	a, ok := r.Lookup(name)
	if !ok {
		return Action{}, fmt.Errorf("no action registered under %q", name)
	}
	return a, nil
}

// Lookup returns the action registered under name and whether it exists.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Known reports whether name is a registered action.
func (r *Registry) Known(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for k := range r.actions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Pullable returns the names of actions Nodes may pull, sorted.
func (r *Registry) Pullable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for k, a := range r.actions {
		if a.Pullable {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// FilterPullable keeps the requested names that are registered and pullable,
// preserving request order and dropping duplicates.
func (r *Registry) FilterPullable(requested []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if a, ok := r.actions[name]; ok && a.Pullable {
			out = append(out, name)
		}
	}
	return out
}
