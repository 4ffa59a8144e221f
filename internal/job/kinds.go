// Package job implements the job harness: the runtime wrapper that loads
// a claimed step, runs its phases in order, classifies any fault, and
// writes the result back to the step store. The three job flavours
// (Atomic, Lifecycle, Orchestrator) are distinct interfaces with disjoint
// operations; the harness branches once on kind.
package job

import (
	"context"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// ExceptionHandler classifies exchange-specific errors into the Kind
// taxonomy. Bound to a job during AssignExceptionHandler; the concrete
// exchange mapping is an external collaborator — this interface is the
// seam it plugs into.
type ExceptionHandler interface {
	Classify(err error) *Fault
}

// Context is what the harness hands to every phase: the claimed step row,
// the exception handler bound for this account/exchange, and whatever
// narrow collaborators (throttler, exchange client) the job needs. Kept
// as a struct rather than a grab-bag context.Context value to keep the
// phase signatures explicit about what they depend on.
type Context struct {
	Ctx     context.Context
	Step    *stepstore.Step
	Handler ExceptionHandler
}

// Guardable is implemented by any job whose Guard phase may skip
// execution without error.
type Guardable interface {
	Guard(jc *Context) (bool, error)
}

// DoubleChecker is implemented by jobs with a verify phase.
type DoubleChecker interface {
	DoubleCheck(jc *Context, result stepstore.Arguments) (bool, error)
}

// Completer is implemented by jobs with a local-finalisation phase.
type Completer interface {
	Complete(jc *Context, result stepstore.Arguments) error
}

// ExceptionAssigner lets a job bind its exchange-scoped handler.
type ExceptionAssigner interface {
	AssignExceptionHandler(jc *Context) (ExceptionHandler, error)
}

// Atomic performs exactly one external effect — one exchange API call or
// one database mutation.
type Atomic interface {
	ComputeApiable(jc *Context) (stepstore.Arguments, error)
}

// ChildSubmission is one step a Lifecycle or Orchestrator wants appended
// to the store.
type ChildSubmission = stepstore.NewStep

// Lifecycle is a reusable sub-workflow builder: it appends one or more
// steps into an existing block starting at startIndex and returns the
// next free index. It performs no external I/O itself.
type Lifecycle interface {
	Dispatch(jc *Context, blockUUID string, startIndex int, workflowID string) (nextIndex int, submissions []ChildSubmission, err error)
}

// Orchestrator is a top-level step whose Compute only creates more steps,
// typically by invoking one or more Lifecycles in sequence.
type Orchestrator interface {
	Compute(jc *Context) ([]ChildSubmission, error)
}
