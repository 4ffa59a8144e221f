// Package repeater implements a retry scheduler for periodic/idempotent
// work outside the step graph: rows with next_run_at/max_attempts/
// parameters, processed by instantiating a class and branching on its
// boolean return into passed/failed/maxAttemptsReached hooks.
package repeater

// Task is the class interface a repeater row's `class` name resolves to.
// Run reports whether the task succeeded; Passed/Failed/
// MaxAttemptsReached are the three lifecycle hooks.
type Task interface {
	Run(params map[string]interface{}) (bool, error)
	Passed(params map[string]interface{})
	Failed(params map[string]interface{}, attempt int)
	MaxAttemptsReached(params map[string]interface{})
	// NextBackoff returns the delay before the next attempt after a
	// failed run, letting each class own its own backoff policy rather
	// than sharing the job harness's Backoff.
	NextBackoff(attempt int) int
}

// Factory constructs a Task from a repeater row's persisted class name,
// mirroring internal/job.Registry's factory-over-reflection pattern.
type Factory func() Task

// Registry maps a repeater row's class name to its Factory.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(class string, f Factory) {
	r.factories[class] = f
}

func (r *Registry) Build(class string) (Task, bool) {
	f, ok := r.factories[class]
	if !ok {
		return nil, false
	}
	return f(), true
}
