package job

import (
	"fmt"
	"sync"
)

// Factory constructs a job instance from a step's persisted arguments.
// Every job class registers a factory keyed by its stable name, avoiding
// reflective construction at run time.
type Factory func(args map[string]interface{}) (interface{}, error)

// Registry maps a step's stable class name to its Factory. step.class is
// the key directly — not a host-language import path — so resolution
// (internal/resolver) and registration stay decoupled from how the Go
// packages happen to be organised.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a class name to its factory. Re-registering the same
// name panics at init time (a programming error, not a runtime fault) —
// the same init()-time registration pattern mockgen-style generated
// bindings use.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		panic(fmt.Sprintf("job: class %q already registered", class))
	}
	r.factories[class] = f
}

// Has reports whether class has a registered factory — used by
// internal/resolver to decide whether an exchange-specific override
// class exists.
func (r *Registry) Has(class string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[class]
	return ok
}

// Build constructs the job instance for class.
func (r *Registry) Build(class string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job: no factory registered for class %q", class)
	}
	return f(args)
}
