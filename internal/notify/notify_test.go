package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFuncsAreDistinctGranularities(t *testing.T) {
	account := PerAccount(1, "binance", "BTCUSDT")
	exchange := PerExchange(1, "binance", "BTCUSDT")
	symbol := PerSymbol(1, "binance", "BTCUSDT")

	assert.NotEqual(t, account, exchange)
	assert.NotEqual(t, exchange, symbol)
	assert.NotEqual(t, account, symbol)

	// Same account/exchange, different symbol: per-account and
	// per-exchange keys must coincide, per-symbol must not.
	assert.Equal(t, PerAccount(1, "binance", "ETHUSDT"), account)
	assert.Equal(t, PerExchange(1, "binance", "ETHUSDT"), exchange)
	assert.NotEqual(t, PerSymbol(1, "binance", "ETHUSDT"), symbol)
}
