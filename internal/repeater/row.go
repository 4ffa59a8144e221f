package repeater

import (
	"context"
	"time"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// Row is a repeater row: next_run_at, max_attempts, parameters. Separate
// table from steps — this scheduler is intentionally a simpler, flat
// polling model, not a block/index graph.
type Row struct {
	ID          uint64                 `gorm:"primary_key;auto_increment"`
	Class       string                 `gorm:"column:class;size:255;index"`
	Params      stepstore.Arguments    `gorm:"column:parameters;type:text"`
	Attempts    int                    `gorm:"column:attempts"`
	MaxAttempts int                    `gorm:"column:max_attempts"`
	NextRunAt   time.Time              `gorm:"column:next_run_at;index"`
	CreatedAt   time.Time              `gorm:"column:created_at"`
	UpdatedAt   time.Time              `gorm:"column:updated_at"`
}

func (Row) TableName() string { return "repeater_tasks" }

// NewRow is the argument bundle for Store.Create.
type NewRow struct {
	Class       string
	Params      stepstore.Arguments
	MaxAttempts int
	RunAt       time.Time
}

// Store is the repeater's persistence seam, mirroring stepstore.Store's
// single-update-per-transition shape but over the flatter Row model.
type Store interface {
	Create(ctx context.Context, in NewRow) (*Row, error)
	// Due returns rows whose next_run_at has arrived, oldest first.
	Due(ctx context.Context, limit int) ([]*Row, error)
	// Reschedule bumps attempts and sets the next run time after a
	// failed-but-retryable run.
	Reschedule(ctx context.Context, id uint64, nextRunAt time.Time) error
	// Delete removes a row after it passes or exhausts its attempts.
	Delete(ctx context.Context, id uint64) error
}
