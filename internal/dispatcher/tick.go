// Package dispatcher implements the tick loop: select ready steps for a
// group, claim them, and hand them to the job harness, with a
// parent-completion shortcut for steps that exist only to wait on a set
// of children.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/log"
	"github.com/cryptoladder/engine/internal/stepstore"
)

var logger = log.New(log.ModuleDispatcher)

const (
	// DefaultBatchSize is the per-tick candidate count.
	DefaultBatchSize = 32
	// DefaultTickBudget is the per-tick time budget.
	DefaultTickBudget = 25 * time.Second
	// DefaultLockTTL bounds how long a group's advisory lock survives a
	// crashed dispatcher before another process may acquire it.
	DefaultLockTTL = 30 * time.Second
)

// Dispatcher runs ticks for one or more groups against a shared store and
// harness.
type Dispatcher struct {
	Store      stepstore.Store
	Harness    *job.Harness
	Locker     Locker
	BatchSize  int
	TickBudget time.Duration
	LockTTL    time.Duration
	clock      func() time.Time
}

// New builds a Dispatcher with its documented defaults. Locker defaults
// to NoopLocker — pass a RedisLocker explicitly when multiple processes
// share a group.
func New(store stepstore.Store, harness *job.Harness) *Dispatcher {
	return &Dispatcher{
		Store:      store,
		Harness:    harness,
		Locker:     NoopLocker{},
		BatchSize:  DefaultBatchSize,
		TickBudget: DefaultTickBudget,
		LockTTL:    DefaultLockTTL,
		clock:      time.Now,
	}
}

func (d *Dispatcher) WithLocker(l Locker) *Dispatcher { d.Locker = l; return d }
func (d *Dispatcher) WithClock(c func() time.Time) *Dispatcher {
	d.clock = c
	return d
}

// RunTick executes one tick for group: select candidates, claim each,
// resolve parent-completion steps directly, and hand the rest to the
// harness, until the batch drains or the time budget elapses.
func (d *Dispatcher) RunTick(ctx context.Context, group string) (dispatched int, err error) {
	acquired, err := d.Locker.TryLock(ctx, group, d.LockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		tickSkippedLocked.WithLabelValues(group).Inc()
		logger.Debug("tick skipped, lock held", zap.String("group", group))
		return 0, nil
	}
	defer func() {
		if uerr := d.Locker.Unlock(ctx, group); uerr != nil {
			logger.Warn("failed to release tick lock", zap.String("group", group), zap.Error(uerr))
		}
	}()

	start := d.clock()
	defer func() {
		tickDuration.WithLabelValues(group).Observe(time.Since(start).Seconds())
	}()

	deadline := start.Add(d.TickBudget)

	candidates, err := d.Store.SelectReady(ctx, group, d.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, candidate := range candidates {
		if d.clock().After(deadline) {
			logger.Info("tick budget exhausted", zap.String("group", group), zap.Int("dispatched", dispatched))
			break
		}

		claimed, err := d.Store.Claim(ctx, candidate.ID)
		if err != nil {
			if _, stale := err.(stepstore.ErrStaleClaim); stale {
				claimConflicts.WithLabelValues(group).Inc()
				continue
			}
			return dispatched, err
		}

		if claimed.ChildBlockUUID != "" {
			if err := d.resolveParent(ctx, claimed); err != nil {
				return dispatched, err
			}
			dispatched++
			continue
		}

		if err := d.Harness.Run(ctx, claimed); err != nil {
			return dispatched, err
		}
		stepsDispatched.WithLabelValues(group).Inc()
		dispatched++
	}

	return dispatched, nil
}

// resolveParent implements the parent-completion rule: a step with a
// non-null child_block_uuid never has its body invoked a second time.
// Its fate is decided entirely by its children's terminal states.
func (d *Dispatcher) resolveParent(ctx context.Context, step *stepstore.Step) error {
	status, err := d.Store.ChildrenStatus(ctx, step.ChildBlockUUID)
	if err != nil {
		return err
	}
	if status.AnyFailed {
		logger.Warn("parent step failed via child failure", zap.Uint64("step_id", step.ID), zap.String("child_block_uuid", step.ChildBlockUUID))
		if err := d.Store.MarkFailed(ctx, step.ID, "child_failure", "one or more child steps failed"); err != nil {
			return err
		}
		sibling, err := d.Store.SiblingResolveExceptionStep(ctx, step.BlockUUID)
		if err != nil {
			return err
		}
		if sibling == nil {
			return nil
		}
		logger.Info("activating resolve-exception sibling via child failure", zap.Uint64("step_id", step.ID), zap.Uint64("sibling_id", sibling.ID))
		return d.Store.ActivateResolveException(ctx, step.BlockUUID)
	}
	logger.Info("parent step completed via children", zap.Uint64("step_id", step.ID), zap.String("child_block_uuid", step.ChildBlockUUID))
	return d.Store.MarkComplete(ctx, step.ID, nil)
}

// Loop drives RunTick on a fixed cadence until ctx is cancelled — a
// convenience driver for deployments without a separate queue coordinator
// to emit the per-group tick event.
func (d *Dispatcher) Loop(ctx context.Context, group string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunTick(ctx, group); err != nil {
				logger.Error("tick failed", zap.String("group", group), zap.Error(err))
			}
		}
	}
}

// Cancel transitions every non-terminal step in blockUUIDs to cancelled.
// Running steps finish independently; the
// harness's own state check (MarkComplete/MarkFailed on an already
// cancelled row) is a no-op at the store layer since those transitions
// only ever act on the row by id, but callers should treat a cancelled
// workflow's in-flight results as discarded regardless.
func (d *Dispatcher) Cancel(ctx context.Context, blockUUIDs []string) (int, error) {
	return d.Store.CancelBlocks(ctx, blockUUIDs)
}
