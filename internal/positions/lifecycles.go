package positions

import "github.com/cryptoladder/engine/internal/job"

// submitOne builds the single-step Dispatch pattern shared by every
// lifecycle in this workflow except PlaceLadderOrders: resolve the
// atomic class per the account's exchange canonical once, at lifecycle
// emission time, and append one child at startIndex.
func submitOne(jc *job.Context, deps Deps, defaultClass, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	sub := job.ChildSubmission{
		Class:         deps.Resolver.Resolve(defaultClass, canonical),
		Args:          jc.Step.Args,
		BlockUUID:     blockUUID,
		Index:         startIndex,
		WorkflowID:    workflowID,
		Queue:         jc.Step.Queue,
		RelatableType: jc.Step.RelatableType,
		RelatableID:   jc.Step.RelatableID,
	}
	return startIndex + 1, []job.ChildSubmission{sub}, nil
}

// VerifyTradingPairNotOpenLifecycle wraps the guard step, the first in
// the orchestrator's sequence (index 2 under NewWorkflow, whose
// orchestrator holds index 1).
type VerifyTradingPairNotOpenLifecycle struct{ Deps Deps }

func (l VerifyTradingPairNotOpenLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassVerifyTradingPairNotOpen, blockUUID, startIndex, workflowID)
}

// SetMarginModeLifecycle wraps the margin-mode call (index 3 under
// NewWorkflow).
type SetMarginModeLifecycle struct{ Deps Deps }

func (l SetMarginModeLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassSetMarginMode, blockUUID, startIndex, workflowID)
}

// SetLeverageLifecycle wraps the leverage call (index 4 under
// NewWorkflow).
type SetLeverageLifecycle struct{ Deps Deps }

func (l SetLeverageLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassSetLeverage, blockUUID, startIndex, workflowID)
}

// PreparePositionDataLifecycle wraps the sizing computation (index 5
// under NewWorkflow).
type PreparePositionDataLifecycle struct{ Deps Deps }

func (l PreparePositionDataLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassPreparePositionData, blockUUID, startIndex, workflowID)
}

// VerifyOrderNotionalLifecycle wraps the minimum-notional guard (index 6
// under NewWorkflow).
type VerifyOrderNotionalLifecycle struct{ Deps Deps }

func (l VerifyOrderNotionalLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassVerifyOrderNotional, blockUUID, startIndex, workflowID)
}

// PlaceMarketOrderLifecycle wraps the entry fill (index 7 under
// NewWorkflow).
type PlaceMarketOrderLifecycle struct{ Deps Deps }

func (l PlaceMarketOrderLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	return submitOne(jc, l.Deps, ClassPlaceMarketOrder, blockUUID, startIndex, workflowID)
}

// PlaceLadderOrdersLifecycle composes the order ladder: Deps.ladderLegs()
// limit orders plus the profit and stop-loss orders, all at the same
// index so they fan out in parallel rather than serially.
type PlaceLadderOrdersLifecycle struct{ Deps Deps }

func (l PlaceLadderOrdersLifecycle) Dispatch(jc *job.Context, blockUUID string, startIndex int, workflowID string) (int, []job.ChildSubmission, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	var subs []job.ChildSubmission
	for leg := 1; leg <= l.Deps.ladderLegs(); leg++ {
		subs = append(subs, job.ChildSubmission{
			Class:         l.Deps.Resolver.Resolve(ClassPlaceLimitOrder, canonical),
			Args:          withArg(jc.Step.Args, "leg", leg),
			BlockUUID:     blockUUID,
			Index:         startIndex,
			WorkflowID:    workflowID,
			Queue:         jc.Step.Queue,
			RelatableType: jc.Step.RelatableType,
			RelatableID:   jc.Step.RelatableID,
		})
	}
	subs = append(subs,
		job.ChildSubmission{
			Class:         l.Deps.Resolver.Resolve(ClassPlaceProfitOrder, canonical),
			Args:          jc.Step.Args,
			BlockUUID:     blockUUID,
			Index:         startIndex,
			WorkflowID:    workflowID,
			Queue:         jc.Step.Queue,
			RelatableType: jc.Step.RelatableType,
			RelatableID:   jc.Step.RelatableID,
		},
		job.ChildSubmission{
			Class:         l.Deps.Resolver.Resolve(ClassPlaceStopLossOrder, canonical),
			Args:          jc.Step.Args,
			BlockUUID:     blockUUID,
			Index:         startIndex,
			WorkflowID:    workflowID,
			Queue:         jc.Step.Queue,
			RelatableType: jc.Step.RelatableType,
			RelatableID:   jc.Step.RelatableID,
		},
	)
	return startIndex + 1, subs, nil
}
