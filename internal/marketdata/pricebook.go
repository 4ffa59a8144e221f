// Package marketdata adapts the generic internal/exchangeapi.Client seam
// into the three numeric lookups internal/positions needs (mark price,
// minimum notional, tick size). Per-exchange response parsing is kept to
// a single generic JSON-field extraction, the same boundary
// internal/exchangeapi itself draws — exchange payload mapping beyond
// "pull this field out of the JSON body" remains an external
// collaborator's job, not this core's.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cryptoladder/engine/internal/exchangeapi"
)

// Endpoint names the signature and JSON field a GenericPriceBook reads
// one numeric value from; the symbol is always sent as the "symbol"
// query parameter.
type Endpoint struct {
	Signature string // e.g. "GET /fapi/v1/ticker/price", matches throttle.EndpointTable keys
	Field     string // top-level JSON field carrying the numeric value
}

// Canonical bundles the three endpoints one exchange canonical exposes
// market data through.
type Canonical struct {
	MarkPrice   Endpoint
	MinNotional Endpoint
	TickSize    Endpoint
}

// GenericPriceBook implements internal/positions.PriceBook over whatever
// per-canonical exchangeapi.Client and Endpoint table the operator
// configures, rather than hardcoding one exchange's response shape.
type GenericPriceBook struct {
	clients    map[string]exchangeapi.Client
	canonicals map[string]Canonical
}

func New(clients map[string]exchangeapi.Client, canonicals map[string]Canonical) *GenericPriceBook {
	return &GenericPriceBook{clients: clients, canonicals: canonicals}
}

func (b *GenericPriceBook) MarkPrice(ctx context.Context, canonical, symbol string) (float64, error) {
	c, err := b.canonical(canonical)
	if err != nil {
		return 0, err
	}
	return b.fetch(ctx, canonical, symbol, c.MarkPrice)
}

func (b *GenericPriceBook) MinNotional(ctx context.Context, canonical, symbol string) (float64, error) {
	c, err := b.canonical(canonical)
	if err != nil {
		return 0, err
	}
	return b.fetch(ctx, canonical, symbol, c.MinNotional)
}

func (b *GenericPriceBook) TickSize(ctx context.Context, canonical, symbol string) (float64, error) {
	c, err := b.canonical(canonical)
	if err != nil {
		return 0, err
	}
	return b.fetch(ctx, canonical, symbol, c.TickSize)
}

func (b *GenericPriceBook) canonical(canonical string) (Canonical, error) {
	c, ok := b.canonicals[canonical]
	if !ok {
		return Canonical{}, fmt.Errorf("marketdata: no endpoint table for canonical %q", canonical)
	}
	return c, nil
}

func (b *GenericPriceBook) fetch(ctx context.Context, canonical, symbol string, ep Endpoint) (float64, error) {
	client, ok := b.clients[canonical]
	if !ok {
		return 0, fmt.Errorf("marketdata: no client for canonical %q", canonical)
	}
	resp, err := client.Do(ctx, exchangeapi.Request{
		EndpointSignature: ep.Signature,
		Query:             map[string]string{"symbol": symbol},
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("marketdata: %s returned status %d", ep.Signature, resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, fmt.Errorf("marketdata: decode %s body: %w", ep.Signature, err)
	}
	raw, ok := body[ep.Field]
	if !ok {
		return 0, fmt.Errorf("marketdata: %s response has no field %q", ep.Signature, ep.Field)
	}
	return toFloat(raw)
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return 0, fmt.Errorf("marketdata: cannot parse %q as number", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("marketdata: unsupported field type %T", raw)
	}
}
