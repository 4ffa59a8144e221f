package marketdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/exchangeapi"
)

func newFixture(t *testing.T) (*GenericPriceBook, *exchangeapi.FakeClient) {
	t.Helper()
	client := exchangeapi.NewFakeClient()
	book := New(
		map[string]exchangeapi.Client{"binance": client},
		map[string]Canonical{
			"binance": {
				MarkPrice:   Endpoint{Signature: "GET /fapi/v1/ticker/price", Field: "price"},
				MinNotional: Endpoint{Signature: "GET /fapi/v1/exchangeInfo", Field: "minNotional"},
				TickSize:    Endpoint{Signature: "GET /fapi/v1/exchangeInfo", Field: "tickSize"},
			},
		},
	)
	return book, client
}

func TestGenericPriceBookReadsConfiguredField(t *testing.T) {
	book, client := newFixture(t)
	client.SetResponse("GET /fapi/v1/ticker/price", &exchangeapi.Response{
		StatusCode: 200,
		Body:       []byte(`{"symbol":"BTCUSDT","price":64000.5}`),
	})

	got, err := book.MarkPrice(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 64000.5, got)
}

func TestGenericPriceBookParsesStringField(t *testing.T) {
	book, client := newFixture(t)
	client.SetResponse("GET /fapi/v1/exchangeInfo", &exchangeapi.Response{
		StatusCode: 200,
		Body:       []byte(`{"minNotional":"5.0","tickSize":"0.01"}`),
	})

	got, err := book.MinNotional(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestGenericPriceBookUnknownCanonical(t *testing.T) {
	book, _ := newFixture(t)
	_, err := book.MarkPrice(context.Background(), "kraken", "BTCUSDT")
	assert.Error(t, err)
}

func TestGenericPriceBookMissingField(t *testing.T) {
	book, client := newFixture(t)
	client.SetResponse("GET /fapi/v1/ticker/price", &exchangeapi.Response{
		StatusCode: 200,
		Body:       []byte(`{"symbol":"BTCUSDT"}`),
	})

	_, err := book.MarkPrice(context.Background(), "binance", "BTCUSDT")
	assert.Error(t, err)
}

func TestGenericPriceBookErrorStatus(t *testing.T) {
	book, client := newFixture(t)
	client.SetResponse("GET /fapi/v1/ticker/price", &exchangeapi.Response{StatusCode: 500})

	_, err := book.MarkPrice(context.Background(), "binance", "BTCUSDT")
	assert.Error(t, err)
}
