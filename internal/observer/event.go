package observer

import "github.com/cryptoladder/engine/internal/stepstore"

// TransitionKind names the domain transitions an observer reacts to.
// Kept as a closed set for the same reason RelatableKind is closed: a
// dispatch table, not free-form strings matched ad hoc across the
// codebase.
type TransitionKind string

const (
	TransitionOrderFilled       TransitionKind = "order_filled"
	TransitionPositionLiquidated TransitionKind = "position_liquidated"
	TransitionBalanceUpdated    TransitionKind = "balance_updated"
	TransitionMarkPriceUpdated  TransitionKind = "mark_price_updated"
)

// Event is the wire payload published/consumed on a transition topic.
type Event struct {
	Kind        TransitionKind        `json:"kind"`
	AccountID   uint64                `json:"account_id"`
	Canonical   string                `json:"canonical"`
	RelatableType stepstore.RelatableKind `json:"relatable_type"`
	RelatableID uint64                `json:"relatable_id"`
	Payload     map[string]interface{} `json:"payload"`
}

// Reaction maps a TransitionKind to the step(s) it should submit. Handlers
// are registered per kind rather than dispatched reflectively, mirroring
// the job.Registry factory pattern.
type Reaction func(Event) ([]stepstore.NewStep, error)
