// Package domain carries the minimal stub entity types a step's
// relatable pointer needs. Full trading-domain models — sizing, margin
// math, order books — remain an external collaborator; these stubs exist
// only so the resolver, logging, and the workflow in internal/positions
// have something concrete to hold an id and an exchange canonical.
package domain

import "github.com/cryptoladder/engine/internal/stepstore"

// Position is the minimal shape an orchestrator needs to thread sizing
// and ladder state between lifecycles.
type Position struct {
	ID               uint64
	AccountID        uint64
	ExchangeSymbolID uint64
	Side             string // "long" or "short"
	EntryNotional    float64
	Leverage         int
	MarginMode       string // "isolated" or "cross"
	MarkPrice        float64
	Filled           bool
}

// Account is the minimal account shape the resolver and throttler need:
// which exchange canonical it trades on and which API key budget it
// draws from.
type Account struct {
	ID        uint64
	Canonical string
	APIKeyID  string
}

// ExchangeSymbol pairs a Symbol with an exchange-specific contract
// (tick size, min notional) — only the fields the example workflow reads.
type ExchangeSymbol struct {
	ID            uint64
	SymbolID      uint64
	Canonical     string
	MinNotional   float64
	TickSize      float64
}

// Order is the minimal order record an atomic job's Complete phase
// writes reference fields onto.
type Order struct {
	ID          uint64
	PositionID  uint64
	ExchangeID  string
	Kind        string // "market", "limit", "profit", "stop_loss"
	Price       float64
	Quantity    float64
	Status      string
}

// ApiSystem names one exchange integration's credentials/config record.
type ApiSystem struct {
	ID        uint64
	Canonical string
}

// Symbol is the base trading pair (e.g. BTCUSDT), exchange-agnostic.
type Symbol struct {
	ID   uint64
	Name string
}

// Lookup is a closed dispatch table: a function per RelatableKind that
// loads the concrete entity by id, rather than a reflective map. Each
// entry is supplied by whatever owns that entity's persistence — the
// step harness only ever calls through this table.
type Lookup struct {
	Position       func(id uint64) (*Position, error)
	Account        func(id uint64) (*Account, error)
	ExchangeSymbol func(id uint64) (*ExchangeSymbol, error)
	Order          func(id uint64) (*Order, error)
	ApiSystem      func(id uint64) (*ApiSystem, error)
	Symbol         func(id uint64) (*Symbol, error)
}

// Load dispatches on kind using the closed RelatableKind enum, returning
// an untyped entity — callers type-assert based on the same kind they
// passed in.
func (l Lookup) Load(kind stepstore.RelatableKind, id uint64) (interface{}, error) {
	switch kind {
	case stepstore.RelatablePosition:
		return l.Position(id)
	case stepstore.RelatableAccount:
		return l.Account(id)
	case stepstore.RelatableExchangeSymbol:
		return l.ExchangeSymbol(id)
	case stepstore.RelatableOrder:
		return l.Order(id)
	case stepstore.RelatableAPISystem:
		return l.ApiSystem(id)
	case stepstore.RelatableSymbol:
		return l.Symbol(id)
	default:
		return nil, nil
	}
}
