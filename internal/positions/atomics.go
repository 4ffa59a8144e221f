package positions

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/exchangeapi"
	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/stepstore"
)

// verifyTradingPairNotOpen queries the exchange's open positions before
// the workflow trades. It fails only on an error status or a transport
// error; the response body is not inspected, so an existing position on
// the same pair does not stop the workflow, and the step always reports
// trading_pair_already_open as false.
type verifyTradingPairNotOpen struct{ deps Deps }

func (j *verifyTradingPairNotOpen) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "GET /positions/open",
		Method:            "GET",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("checking open positions", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected open-positions check", nil)
	}
	return stepstore.Arguments{"trading_pair_already_open": false}, nil
}

// setMarginMode issues the account's margin-mode preference (isolated vs
// cross) before leverage and sizing are set.
type setMarginMode struct{ deps Deps }

func (j *setMarginMode) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /margin-mode",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
		Body:              []byte(argString(jc.Step.Args, ArgMarginMode)),
	})
	if err != nil {
		return nil, job.Retryable("setting margin mode", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected margin mode", nil)
	}
	return stepstore.Arguments{"margin_mode_set": argString(jc.Step.Args, ArgMarginMode)}, nil
}

// setLeverage issues the account's leverage preference.
type setLeverage struct{ deps Deps }

func (j *setLeverage) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /leverage",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
		Body:              []byte(strconv.Itoa(argInt(jc.Step.Args, ArgLeverage))),
	})
	if err != nil {
		return nil, job.Retryable("setting leverage", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected leverage", nil)
	}
	return stepstore.Arguments{"leverage_set": argInt(jc.Step.Args, ArgLeverage)}, nil
}

// preparePositionData computes order quantity from notional, mark price
// and leverage, and returns them as this step's result. The values are
// not written to the Position or to any other step's args: later steps
// in the block carry the orchestrator's args, so they see mark price,
// quantity and entry price only if those args already held them. The
// sizing formula itself lives here only as the minimal
// arithmetic needed to exercise the workflow; ladder spacing and
// stop/profit pricing remain the trading-math external collaborator.
type preparePositionData struct{ deps Deps }

func (j *preparePositionData) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	symbol := argString(jc.Step.Args, ArgSymbol)
	price, err := j.deps.Prices.MarkPrice(jc.Ctx, canonical, symbol)
	if err != nil {
		return nil, job.Retryable("fetching mark price", err)
	}
	if price <= 0 {
		return nil, job.Permanent("non-positive mark price", nil)
	}
	notional := argFloat(jc.Step.Args, ArgNotional)
	leverage := argFloat(jc.Step.Args, ArgLeverage)
	if leverage <= 0 {
		leverage = 1
	}
	quantity := (notional * leverage) / price
	return stepstore.Arguments{ArgMarkPrice: price, ArgQuantity: quantity, ArgEntryPrice: price}, nil
}

// verifyOrderNotional rejects the workflow before it trades if the
// computed notional falls under the symbol's exchange-published minimum.
type verifyOrderNotional struct{ deps Deps }

func (j *verifyOrderNotional) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	symbol := argString(jc.Step.Args, ArgSymbol)
	minNotional, err := j.deps.Prices.MinNotional(jc.Ctx, canonical, symbol)
	if err != nil {
		return nil, job.Retryable("fetching minimum notional", err)
	}
	notional := argFloat(jc.Step.Args, ArgNotional)
	if notional < minNotional {
		return nil, job.Permanent("order notional below exchange minimum", nil)
	}
	return stepstore.Arguments{"notional_verified": true}, nil
}

// placeMarketOrder places the entry fill and snapshots it so other steps
// (and the resolve-exception compensator) can read the position's latest
// known exchange state without re-querying the exchange.
type placeMarketOrder struct{ deps Deps }

func (j *placeMarketOrder) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /order/market",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("placing market order", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected market order", nil)
	}

	if j.deps.Snapshot != nil {
		state := map[string]interface{}{
			"filled":   true,
			"entry":    argFloat(jc.Step.Args, ArgEntryPrice),
			"quantity": argFloat(jc.Step.Args, ArgQuantity),
		}
		if err := j.deps.Snapshot.Put(jc.Ctx, jc.Step.RelatableID, canonical, state); err != nil {
			logger.Warn("snapshot write failed", zap.Uint64("position_id", jc.Step.RelatableID), zap.Error(err))
		}
	}

	return stepstore.Arguments{"filled": true}, nil
}

// placeLimitOrder places one leg of the ladder below the entry fill.
type placeLimitOrder struct {
	deps Deps
	leg  int
}

func (j *placeLimitOrder) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /order/limit",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("placing ladder limit order", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected limit order", nil)
	}
	return stepstore.Arguments{"leg": j.leg, "placed": true}, nil
}

// placeProfitOrder places the take-profit order against the filled
// position.
type placeProfitOrder struct{ deps Deps }

func (j *placeProfitOrder) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /order/profit",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("placing profit order", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected profit order", nil)
	}
	return stepstore.Arguments{"placed": true}, nil
}

// placeStopLossOrder places the stop-loss order against the filled
// position.
type placeStopLossOrder struct{ deps Deps }

func (j *placeStopLossOrder) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	canonical := argString(jc.Step.Args, ArgCanonical)
	client, err := j.deps.client(canonical)
	if err != nil {
		return nil, job.Permanent(err.Error(), nil)
	}
	resp, err := client.Do(jc.Ctx, exchangeapi.Request{
		EndpointSignature: "POST /order/stop-loss",
		Method:            "POST",
		AccountKey:        argString(jc.Step.Args, ArgAccountID),
	})
	if err != nil {
		return nil, job.Retryable("placing stop-loss order", err)
	}
	if resp.StatusCode >= 500 {
		return nil, job.Retryable("exchange returned server error", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, job.Permanent("exchange rejected stop-loss order", nil)
	}
	return stepstore.Arguments{"placed": true}, nil
}
