// Package stepstore implements the persisted step graph: the durable
// table of steps, their sequencing keys, and the state machine the
// dispatcher and job harness drive.
package stepstore

import (
	"encoding/json"
	"time"
)

// State is the step's position in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateHalted    State = "halted"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateSkipped   State = "skipped"
)

// Terminal reports whether a step in this state will never transition
// again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// Type tags a step as a normal workflow node or a resolve-exception
// compensator sibling.
type Type string

const (
	TypeNormal          Type = "normal"
	TypeResolveException Type = "resolve-exception"
)

// RelatableKind is the closed enum over domain entities a step may point
// at — a dispatch table, not a reflective map.
type RelatableKind string

const (
	RelatablePosition       RelatableKind = "position"
	RelatableAccount        RelatableKind = "account"
	RelatableExchangeSymbol RelatableKind = "exchange_symbol"
	RelatableOrder          RelatableKind = "order"
	RelatableAPISystem      RelatableKind = "api_system"
	RelatableSymbol         RelatableKind = "symbol"
)

// Arguments is the opaque per-step payload. It round-trips through JSON so
// the store can persist it as a single text/blob column regardless of
// backend.
type Arguments map[string]interface{}

// Scan/Value let Arguments be stored directly by gorm/database-sql as a
// JSON text column, encoding nested structures with encoding/json before
// handing them to the backend.
func (a Arguments) Value() (interface{}, error) {
	if a == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(a))
	return string(b), err
}

func (a *Arguments) Scan(src interface{}) error {
	*a = Arguments{}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, (*map[string]interface{})(a))
}

// Step is the unit of scheduled work.
type Step struct {
	ID     uint64 `gorm:"primary_key;auto_increment"`
	Class  string `gorm:"column:class;size:255;index"`
	Args   Arguments `gorm:"column:arguments;type:text"`

	BlockUUID      string `gorm:"column:block_uuid;size:36;index"`
	ChildBlockUUID string `gorm:"column:child_block_uuid;size:36;index"`
	WorkflowID     string `gorm:"column:workflow_id;size:36;index"`
	Index          int    `gorm:"column:index"`

	Type  Type  `gorm:"column:type;size:32"`
	State State `gorm:"column:state;size:32;index"`
	Queue string `gorm:"column:queue;size:64;index"`

	Attempts       int       `gorm:"column:attempts"`
	MaxAttempts    int       `gorm:"column:max_attempts"`
	BackoffSeconds int       `gorm:"column:backoff_seconds"`
	NextRunAt      *time.Time `gorm:"column:next_run_at;index"`
	LastError      string    `gorm:"column:last_error;size:2000"`

	RelatableType RelatableKind `gorm:"column:relatable_type;size:32"`
	RelatableID   uint64        `gorm:"column:relatable_id"`

	DispatchedAt *time.Time `gorm:"column:dispatched_at"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	FinishedAt   *time.Time `gorm:"column:finished_at"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName pins the gorm table name regardless of pluralisation rules.
func (Step) TableName() string { return "steps" }

// NewStep is the argument bundle for Store.Create — everything an
// orchestrator/lifecycle/observer/cron driver supplies when appending a
// row.
type NewStep struct {
	Class          string
	Args           Arguments
	BlockUUID      string
	Index          int
	ChildBlockUUID string
	WorkflowID     string
	Queue          string
	Type           Type
	MaxAttempts    int
	BackoffSeconds int
	RelatableType  RelatableKind
	RelatableID    uint64
}
