package positions

import "github.com/cryptoladder/engine/internal/job"

// Register binds every job class this package implements into reg, keyed
// by the stable class names step rows carry. Call once at process
// bootstrap, after deps is fully built.
func Register(reg *job.Registry, deps Deps) {
	reg.Register(ClassOrchestrator, func(args map[string]interface{}) (interface{}, error) {
		return &OpenPositionOrchestrator{Deps: deps}, nil
	})

	reg.Register(ClassVerifyTradingPairNotOpen, func(args map[string]interface{}) (interface{}, error) {
		return &verifyTradingPairNotOpen{deps: deps}, nil
	})
	reg.Register(ClassSetMarginMode, func(args map[string]interface{}) (interface{}, error) {
		return &setMarginMode{deps: deps}, nil
	})
	reg.Register(ClassSetLeverage, func(args map[string]interface{}) (interface{}, error) {
		return &setLeverage{deps: deps}, nil
	})
	reg.Register(ClassPreparePositionData, func(args map[string]interface{}) (interface{}, error) {
		return &preparePositionData{deps: deps}, nil
	})
	reg.Register(ClassVerifyOrderNotional, func(args map[string]interface{}) (interface{}, error) {
		return &verifyOrderNotional{deps: deps}, nil
	})
	reg.Register(ClassPlaceMarketOrder, func(args map[string]interface{}) (interface{}, error) {
		return &placeMarketOrder{deps: deps}, nil
	})
	reg.Register(ClassPlaceLimitOrder, func(args map[string]interface{}) (interface{}, error) {
		return &placeLimitOrder{deps: deps, leg: argInt(args, "leg")}, nil
	})
	reg.Register(ClassPlaceProfitOrder, func(args map[string]interface{}) (interface{}, error) {
		return &placeProfitOrder{deps: deps}, nil
	})
	reg.Register(ClassPlaceStopLossOrder, func(args map[string]interface{}) (interface{}, error) {
		return &placeStopLossOrder{deps: deps}, nil
	})

	reg.Register(ClassCancelPosition, func(args map[string]interface{}) (interface{}, error) {
		return &cancelPosition{deps: deps}, nil
	})
}
