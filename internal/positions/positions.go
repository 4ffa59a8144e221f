// Package positions implements the position-open workflow: one
// Orchestrator sequencing seven Lifecycles, each emitting one or more
// per-exchange-resolved Atomic steps, with a resolve-exception sibling
// targeting CancelPositionJob. It exercises dispatcher, resolver, harness,
// throttle and exchangeapi together end to end; the trading math (sizing,
// ladder spacing, stop/profit pricing) remains an external collaborator
// and is represented here only by the narrow PriceBook seam
// PreparePositionData and VerifyOrderNotional read from.
package positions

import (
	"context"

	"github.com/cryptoladder/engine/internal/exchangeapi"
	"github.com/cryptoladder/engine/internal/log"
	"github.com/cryptoladder/engine/internal/resolver"
	"github.com/cryptoladder/engine/internal/snapshot"
	"github.com/cryptoladder/engine/internal/stepstore"
)

var logger = log.New(log.ModulePositions)

// Class name constants. Atomic classes follow the Jobs.<Category>.<Name>
// shape the resolver substitutes exchange-specific overrides against;
// Lifecycles and the orchestrator are never resolved since resolution
// happens once, at lifecycle emission time, against the atomic class each
// one emits.
const (
	ClassOrchestrator = "Jobs.Orchestrator.OpenPositionOrchestrator"

	ClassVerifyTradingPairNotOpen = "Jobs.Atomic.VerifyTradingPairNotOpenJob"
	ClassSetMarginMode            = "Jobs.Atomic.SetMarginModeJob"
	ClassSetLeverage              = "Jobs.Atomic.SetLeverageJob"
	ClassPreparePositionData      = "Jobs.Atomic.PreparePositionDataJob"
	ClassVerifyOrderNotional      = "Jobs.Atomic.VerifyOrderNotionalJob"
	ClassPlaceMarketOrder         = "Jobs.Atomic.PlaceMarketOrderJob"
	ClassPlaceLimitOrder          = "Jobs.Atomic.PlaceLimitOrderJob"
	ClassPlaceProfitOrder         = "Jobs.Atomic.PlaceProfitOrderJob"
	ClassPlaceStopLossOrder       = "Jobs.Atomic.PlaceStopLossOrderJob"

	ClassCancelPosition = "Jobs.ResolveException.CancelPositionJob"
)

// PriceBook is the narrow external collaborator PreparePositionData and
// VerifyOrderNotional read from — mark price and symbol constraints. The
// trading math that turns these into sizing/ladder prices is out of
// scope; only the lookup seam lives here.
type PriceBook interface {
	MarkPrice(ctx context.Context, canonical, symbol string) (float64, error)
	MinNotional(ctx context.Context, canonical, symbol string) (float64, error)
	TickSize(ctx context.Context, canonical, symbol string) (float64, error)
}

// Deps bundles every external collaborator the position workflow's job
// bodies call through. One Deps is shared by every job factory registered
// via Register.
type Deps struct {
	Resolver   *resolver.Resolver
	Clients    map[string]exchangeapi.Client // keyed by exchange canonical
	Prices     PriceBook
	Snapshot   *snapshot.Store // nil disables snapshot writes
	LadderLegs int             // number of limit orders in the ladder below PlaceMarketOrder, default 3
}

func (d Deps) client(canonical string) (exchangeapi.Client, error) {
	c, ok := d.Clients[canonical]
	if !ok {
		return nil, unknownCanonical(canonical)
	}
	return c, nil
}

func (d Deps) ladderLegs() int {
	if d.LadderLegs <= 0 {
		return 3
	}
	return d.LadderLegs
}

// NewWorkflow builds the two step rows that start a position-open
// workflow: the orchestrator at index 1, and its resolve-exception
// sibling targeting CancelPositionJob at the same index, created at the
// same time as the main orchestrator. The sibling is created halted
// (stepstore.Create's rule for TypeResolveException) and only becomes
// eligible once the orchestrator or one of its children fails terminally.
func NewWorkflow(ctx context.Context, store stepstore.Store, queue string, args stepstore.Arguments) (blockUUID string, err error) {
	orchestrator, err := store.Create(ctx, stepstore.NewStep{
		Class:         ClassOrchestrator,
		Args:          args,
		Index:         1,
		Queue:         queue,
		RelatableType: stepstore.RelatablePosition,
		RelatableID:   argUint(args, "position_id"),
	})
	if err != nil {
		return "", err
	}
	_, err = store.Create(ctx, stepstore.NewStep{
		Class:         ClassCancelPosition,
		Args:          args,
		BlockUUID:     orchestrator.BlockUUID,
		Index:         1,
		Queue:         queue,
		Type:          stepstore.TypeResolveException,
		RelatableType: stepstore.RelatablePosition,
		RelatableID:   argUint(args, "position_id"),
	})
	if err != nil {
		return "", err
	}
	return orchestrator.BlockUUID, nil
}
