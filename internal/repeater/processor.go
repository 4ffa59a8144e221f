package repeater

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleRepeater)

// Processor polls Store for due rows and drives each through its Task's
// run/hook cycle. It holds no block/index graph — just a flat due-row
// scan, unlike the dispatcher.
type Processor struct {
	store    Store
	registry *Registry
	clock    func() time.Time
}

func NewProcessor(store Store, registry *Registry) *Processor {
	return &Processor{store: store, registry: registry, clock: time.Now}
}

func (p *Processor) WithClock(c func() time.Time) *Processor { p.clock = c; return p }

// RunOnce processes up to limit due rows, branching on each Task's Run
// result:
//   true              -> Passed(), delete
//   false, attempts<max -> Failed(), reschedule with NextBackoff
//   false, attempts>=max -> MaxAttemptsReached(), delete
func (p *Processor) RunOnce(ctx context.Context, limit int) (int, error) {
	rows, err := p.store.Due(ctx, limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, row := range rows {
		task, ok := p.registry.Build(row.Class)
		if !ok {
			logger.Error("no factory registered for repeater class", zap.String("class", row.Class))
			continue
		}
		p.process(ctx, row, task)
		processed++
	}
	return processed, nil
}

func (p *Processor) process(ctx context.Context, row *Row, task Task) {
	params := map[string]interface{}(row.Params)
	ok, err := task.Run(params)
	if err != nil {
		logger.Warn("repeater task run errored", zap.String("class", row.Class), zap.Uint64("id", row.ID), zap.Error(err))
		ok = false
	}

	if ok {
		task.Passed(params)
		if derr := p.store.Delete(ctx, row.ID); derr != nil {
			logger.Error("failed to delete passed repeater row", zap.Uint64("id", row.ID), zap.Error(derr))
		}
		return
	}

	attempt := row.Attempts + 1
	if attempt >= row.MaxAttempts {
		task.MaxAttemptsReached(params)
		if derr := p.store.Delete(ctx, row.ID); derr != nil {
			logger.Error("failed to delete exhausted repeater row", zap.Uint64("id", row.ID), zap.Error(derr))
		}
		return
	}

	task.Failed(params, attempt)
	next := p.clock().Add(time.Duration(task.NextBackoff(attempt)) * time.Second)
	if rerr := p.store.Reschedule(ctx, row.ID, next); rerr != nil {
		logger.Error("failed to reschedule repeater row", zap.Uint64("id", row.ID), zap.Error(rerr))
	}
}

// Loop drives RunOnce on a fixed cadence until ctx is cancelled.
func (p *Processor) Loop(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx, batchSize); err != nil {
				logger.Error("repeater tick failed", zap.Error(err))
			}
		}
	}
}
