package job

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/log"
	"github.com/cryptoladder/engine/internal/notify"
	"github.com/cryptoladder/engine/internal/stepstore"
)

var logger = log.New(log.ModuleJob)

// VerificationRetryCap bounds how many times a verification-failed fault
// retries before it is treated as a terminal failure.
const VerificationRetryCap = 3

// Harness runs a claimed step through Construct -> Guard ->
// AssignExceptionHandler -> Compute -> DoubleCheck -> Complete; any phase
// may be omitted by not implementing its interface.
type Harness struct {
	registry *Registry
	store    stepstore.Store
	backoff  Backoff
	timeout  time.Duration
	clock    func() time.Time
	notifier *notify.Throttle
}

func NewHarness(registry *Registry, store stepstore.Store) *Harness {
	return &Harness{
		registry: registry,
		store:    store,
		backoff:  DefaultBackoff(),
		timeout:  120 * time.Second,
		clock:    time.Now,
	}
}

func (h *Harness) WithBackoff(b Backoff) *Harness { h.backoff = b; return h }
func (h *Harness) WithTimeout(d time.Duration) *Harness { h.timeout = d; return h }
func (h *Harness) WithClock(c func() time.Time) *Harness { h.clock = c; return h }

// WithNotifier attaches the admin-alert throttle. finishFailed calls it for
// every terminal failure that isn't tagged non-notifiable; nil leaves
// failures silent, which is the zero-value behaviour.
func (h *Harness) WithNotifier(n *notify.Throttle) *Harness { h.notifier = n; return h }

// Run executes the phases for a step that has already been claimed
// (state == running). It never re-claims; the dispatcher owns claiming.
func (h *Harness) Run(ctx context.Context, step *stepstore.Step) error {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	instance, err := h.registry.Build(step.Class, step.Args)
	if err != nil {
		// Unregistered class is a permanent programming error, not a
		// transient condition — fail immediately rather than retry
		// forever against a class that will never resolve.
		return h.finishFailed(runCtx, step, "unregistered_class", err.Error())
	}

	jc := &Context{Ctx: runCtx, Step: step}

	if assigner, ok := instance.(ExceptionAssigner); ok {
		handler, err := assigner.AssignExceptionHandler(jc)
		if err != nil {
			return h.handleFault(runCtx, step, Classify(err))
		}
		jc.Handler = handler
	}

	if guard, ok := instance.(Guardable); ok {
		proceed, err := guard.Guard(jc)
		if err != nil {
			return h.handleFault(runCtx, step, h.classifyWith(jc, err))
		}
		if !proceed {
			logger.Info("guard skipped step", zap.Uint64("step_id", step.ID), zap.String("class", step.Class))
			return h.store.MarkSkipped(runCtx, step.ID)
		}
	}

	result, faultErr := h.compute(jc, instance)
	if faultErr != nil {
		return h.handleFault(runCtx, step, h.classifyWith(jc, faultErr))
	}

	if checker, ok := instance.(DoubleChecker); ok {
		ok2, err := checker.DoubleCheck(jc, result)
		if err != nil {
			return h.handleFault(runCtx, step, h.classifyWith(jc, err))
		}
		if !ok2 {
			return h.handleFault(runCtx, step, VerificationFailed("double-check returned false"))
		}
	}

	if completer, ok := instance.(Completer); ok {
		if err := completer.Complete(jc, result); err != nil {
			return h.handleFault(runCtx, step, h.classifyWith(jc, err))
		}
	}

	logger.Info("step completed", zap.Uint64("step_id", step.ID), zap.String("class", step.Class))
	return h.store.MarkComplete(runCtx, step.ID, result)
}

// compute dispatches to whichever of Atomic/Lifecycle/Orchestrator the
// job instance implements — the single type-switch branch point for every
// job kind.
func (h *Harness) compute(jc *Context, instance interface{}) (stepstore.Arguments, error) {
	switch job := instance.(type) {
	case Atomic:
		return job.ComputeApiable(jc)
	case Orchestrator:
		submissions, err := job.Compute(jc)
		if err != nil {
			return nil, err
		}
		return nil, h.submitChildren(jc, submissions)
	case Lifecycle:
		// A bare Lifecycle invoked directly as a step (rather than
		// called from an Orchestrator's Compute) dispatches into its own
		// step's block starting at the index after its own, i.e. it behaves like a small
		// orchestrator rooted at this step.
		next, submissions, err := job.Dispatch(jc, jc.Step.BlockUUID, jc.Step.Index+1, jc.Step.WorkflowID)
		_ = next
		if err != nil {
			return nil, err
		}
		return nil, h.submitChildren(jc, submissions)
	default:
		return nil, Permanent("job class implements none of Atomic/Lifecycle/Orchestrator", nil)
	}
}

func (h *Harness) submitChildren(jc *Context, submissions []ChildSubmission) error {
	for _, s := range submissions {
		if _, err := h.store.Create(jc.Ctx, s); err != nil {
			return Retryable("failed to persist child step", err)
		}
	}
	return nil
}

func (h *Harness) classifyWith(jc *Context, err error) *Fault {
	if jc.Handler != nil {
		if f := jc.Handler.Classify(err); f != nil {
			return f
		}
	}
	return Classify(err)
}

// handleFault routes a classified fault to completion, retry, or terminal
// failure.
func (h *Harness) handleFault(ctx context.Context, step *stepstore.Step, f *Fault) error {
	switch f.Kind {
	case KindJustEnd:
		logger.Info("step ended via just-end", zap.Uint64("step_id", step.ID))
		return h.store.MarkComplete(ctx, step.ID, nil)

	case KindIgnorable:
		logger.Info("step completed with ignorable fault", zap.Uint64("step_id", step.ID), zap.Error(f))
		return h.store.MarkComplete(ctx, step.ID, stepstore.Arguments{"ignored_error": f.Error()})

	case KindVerificationFailed:
		if step.Attempts >= VerificationRetryCap {
			return h.finishFailed(ctx, step, string(KindVerificationFailed), f.Error())
		}
		return h.retry(ctx, step, f)

	case KindRetryable:
		if step.Attempts >= step.MaxAttempts {
			return h.finishFailed(ctx, step, string(KindRetryable), f.Error())
		}
		return h.retry(ctx, step, f)

	case KindPermanent, KindJustResolve, KindChildFailure, KindNonNotifiable:
		return h.finishFailed(ctx, step, string(f.Kind), f.Error())

	default:
		return h.retry(ctx, step, f)
	}
}

func (h *Harness) retry(ctx context.Context, step *stepstore.Step, f *Fault) error {
	delay := h.backoff.Delay(step.Attempts)
	next := h.clock().Add(delay)
	logger.Warn("step retrying", zap.Uint64("step_id", step.ID), zap.Duration("delay", delay), zap.Error(f))
	return h.store.MarkRetrying(ctx, step.ID, next, f.Error())
}

func (h *Harness) finishFailed(ctx context.Context, step *stepstore.Step, kind, message string) error {
	logger.Error("step failed", zap.Uint64("step_id", step.ID), zap.String("kind", kind), zap.String("message", message))
	if err := h.store.MarkFailed(ctx, step.ID, kind, message); err != nil {
		return err
	}
	h.notifyFailure(ctx, step, kind, message)
	return h.activateCompensator(ctx, step)
}

// notifyFailure raises an admin alert for a terminal failure, subject to
// the attached throttle. Kind non_notifiable is deliberately excluded —
// that's the fault kind a job returns specifically to suppress alerting
// (e.g. a cancelled-by-user race, not an operational problem). Failures
// are logged regardless of whether a notifier is configured.
func (h *Harness) notifyFailure(ctx context.Context, step *stepstore.Step, kind, message string) {
	if h.notifier == nil || kind == string(KindNonNotifiable) {
		return
	}
	canonical, _ := step.Args["canonical"].(string)
	symbol, _ := step.Args["symbol"].(string)
	subject := fmt.Sprintf("step %d failed: %s", step.ID, kind)
	if err := h.notifier.Notify(ctx, step.RelatableID, canonical, symbol, subject, message); err != nil {
		logger.Warn("admin notification failed", zap.Uint64("step_id", step.ID), zap.Error(err))
	}
}

// activateCompensator wakes the resolve-exception sibling in step's block,
// if one exists, now that step has failed terminally.
func (h *Harness) activateCompensator(ctx context.Context, step *stepstore.Step) error {
	sibling, err := h.store.SiblingResolveExceptionStep(ctx, step.BlockUUID)
	if err != nil {
		return err
	}
	if sibling == nil {
		return nil
	}
	logger.Info("activating resolve-exception sibling", zap.Uint64("step_id", step.ID), zap.Uint64("sibling_id", sibling.ID))
	return h.store.ActivateResolveException(ctx, step.BlockUUID)
}
