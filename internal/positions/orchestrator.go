package positions

import "github.com/cryptoladder/engine/internal/job"

// OpenPositionOrchestrator is a pure step-creation Compute phase that
// invokes its seven Lifecycles in sequence, threading the index forward
// exactly like a bare Lifecycle dispatched directly, except driven
// explicitly so the sequence is visible in one place rather than split
// across successive dispatcher ticks.
type OpenPositionOrchestrator struct{ Deps Deps }

func (o *OpenPositionOrchestrator) Compute(jc *job.Context) ([]job.ChildSubmission, error) {
	lifecycles := []job.Lifecycle{
		VerifyTradingPairNotOpenLifecycle{o.Deps},
		SetMarginModeLifecycle{o.Deps},
		SetLeverageLifecycle{o.Deps},
		PreparePositionDataLifecycle{o.Deps},
		VerifyOrderNotionalLifecycle{o.Deps},
		PlaceMarketOrderLifecycle{o.Deps},
		PlaceLadderOrdersLifecycle{o.Deps},
	}

	blockUUID := jc.Step.BlockUUID
	index := jc.Step.Index + 1
	workflowID := jc.Step.WorkflowID

	var all []job.ChildSubmission
	for _, lc := range lifecycles {
		next, subs, err := lc.Dispatch(jc, blockUUID, index, workflowID)
		if err != nil {
			return nil, err
		}
		all = append(all, subs...)
		index = next
	}
	return all, nil
}
