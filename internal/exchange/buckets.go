package exchange

import (
	"time"

	"github.com/cryptoladder/engine/internal/throttle"
)

// DefaultCanonical returns the documented bucket/weight table for c,
// derived from the exchange's published rate-limit cost table. These are
// the conservative, documented defaults, compiled in; internal/config
// has no setting that overrides them.
func DefaultCanonical(c Canonical) throttle.Canonical {
	switch c {
	case Binance:
		return throttle.Canonical{
			Name: string(Binance),
			Buckets: []throttle.Bucket{
				{Name: "requestWeight", Window: 60 * time.Second, Capacity: 1200},
				{Name: "orders10s", Window: 10 * time.Second, Capacity: 50},
				{Name: "ordersDay", Window: 24 * time.Hour, Capacity: 160000},
			},
			Endpoints: throttle.EndpointTable{
				"GET /fapi/v1/ticker/price":  {{Bucket: "requestWeight", Cost: 1}},
				"GET /fapi/v2/account":       {{Bucket: "requestWeight", Cost: 5}},
				"POST /fapi/v1/order":        {{Bucket: "requestWeight", Cost: 1}, {Bucket: "orders10s", Cost: 1}, {Bucket: "ordersDay", Cost: 1}},
				"DELETE /fapi/v1/order":      {{Bucket: "requestWeight", Cost: 1}, {Bucket: "orders10s", Cost: 1}},
				"POST /fapi/v1/leverage":     {{Bucket: "requestWeight", Cost: 1}},
				"POST /fapi/v1/marginType":   {{Bucket: "requestWeight", Cost: 1}},
			},
		}
	case Bybit:
		return throttle.Canonical{
			Name: string(Bybit),
			Buckets: []throttle.Bucket{
				{Name: "ipLimit", Window: 5 * time.Second, Capacity: 600},
				{Name: "orderLimit", Window: 1 * time.Second, Capacity: 10},
			},
			Endpoints: throttle.EndpointTable{
				"GET /v5/market/tickers": {{Bucket: "ipLimit", Cost: 1}},
				"POST /v5/order/create":  {{Bucket: "ipLimit", Cost: 1}, {Bucket: "orderLimit", Cost: 1}},
				"POST /v5/order/cancel":  {{Bucket: "ipLimit", Cost: 1}, {Bucket: "orderLimit", Cost: 1}},
				"POST /v5/position/set-leverage": {{Bucket: "ipLimit", Cost: 1}},
			},
		}
	case Bitget:
		return throttle.Canonical{
			Name: string(Bitget),
			Buckets: []throttle.Bucket{
				{Name: "ipLimit", Window: 1 * time.Second, Capacity: 20},
			},
			Endpoints: throttle.EndpointTable{
				"GET /api/mix/v1/market/ticker": {{Bucket: "ipLimit", Cost: 1}},
				"POST /api/mix/v1/order/placeOrder": {{Bucket: "ipLimit", Cost: 1}},
				"POST /api/mix/v1/order/cancel-order": {{Bucket: "ipLimit", Cost: 1}},
			},
		}
	case Kucoin:
		return throttle.Canonical{
			Name: string(Kucoin),
			Buckets: []throttle.Bucket{
				{Name: "public", Window: 30 * time.Second, Capacity: 2000},
				{Name: "private", Window: 30 * time.Second, Capacity: 2000},
			},
			Endpoints: throttle.EndpointTable{
				"GET /api/v1/mark-price":      {{Bucket: "public", Cost: 2}},
				"POST /api/v1/orders":         {{Bucket: "private", Cost: 4}},
				"DELETE /api/v1/orders":       {{Bucket: "private", Cost: 1}},
				"POST /api/v1/position/margin/auto-deposit-status": {{Bucket: "private", Cost: 4}},
			},
		}
	case Kraken:
		return throttle.Canonical{
			Name: string(Kraken),
			Buckets: []throttle.Bucket{
				{Name: "matchingEngine", Window: 60 * time.Second, Capacity: 180},
			},
			Endpoints: throttle.EndpointTable{
				"POST /derivatives/api/v3/sendorder":  {{Bucket: "matchingEngine", Cost: 1}},
				"POST /derivatives/api/v3/cancelorder": {{Bucket: "matchingEngine", Cost: 1}},
				"GET /derivatives/api/v3/tickers":     {{Bucket: "matchingEngine", Cost: 1}},
			},
		}
	case Taapi:
		return throttle.Canonical{
			Name: string(Taapi),
			Buckets: []throttle.Bucket{
				{Name: "requests", Window: 15 * time.Second, Capacity: 30},
			},
			Endpoints: throttle.EndpointTable{
				"GET /indicator": {{Bucket: "requests", Cost: 1}},
			},
		}
	case CoinMarketCap:
		return throttle.Canonical{
			Name: string(CoinMarketCap),
			Buckets: []throttle.Bucket{
				{Name: "minute", Window: 60 * time.Second, Capacity: 30},
				{Name: "day", Window: 24 * time.Hour, Capacity: 10000},
			},
			Endpoints: throttle.EndpointTable{
				"GET /v1/cryptocurrency/listings/latest": {{Bucket: "minute", Cost: 1}, {Bucket: "day", Cost: 1}},
			},
		}
	case AlternativeMe:
		return throttle.Canonical{
			Name: string(AlternativeMe),
			Buckets: []throttle.Bucket{
				{Name: "minute", Window: 60 * time.Second, Capacity: 60},
			},
			Endpoints: throttle.EndpointTable{
				"GET /fng/": {{Bucket: "minute", Cost: 1}},
			},
		}
	default:
		return throttle.Canonical{Name: string(c)}
	}
}
