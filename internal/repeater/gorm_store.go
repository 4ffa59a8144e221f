package repeater

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// GormStore is the SQL-backed repeater Store, the same seam-over-gorm
// shape internal/stepstore.GormStore uses, simplified to a flat table
// since this scheduler has no block/index graph to express.
type GormStore struct {
	db *gorm.DB
}

func OpenGormStore(driver, dsn string) (*GormStore, error) {
	db, err := gorm.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "repeater: open")
	}
	if err := db.AutoMigrate(&Row{}).Error; err != nil {
		return nil, errors.Wrap(err, "repeater: migrate")
	}
	return &GormStore{db: db}, nil
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (g *GormStore) Create(ctx context.Context, in NewRow) (*Row, error) {
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	runAt := in.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	row := &Row{
		Class:       in.Class,
		Params:      in.Params,
		MaxAttempts: maxAttempts,
		NextRunAt:   runAt,
	}
	if err := g.db.Create(row).Error; err != nil {
		return nil, errors.Wrap(err, "repeater: create")
	}
	return row, nil
}

func (g *GormStore) Due(ctx context.Context, limit int) ([]*Row, error) {
	var rows []*Row
	err := g.db.Where("next_run_at <= ?", time.Now()).Order("next_run_at, id").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "repeater: due")
	}
	return rows, nil
}

func (g *GormStore) Reschedule(ctx context.Context, id uint64, nextRunAt time.Time) error {
	return g.db.Exec(`UPDATE repeater_tasks SET attempts = attempts + 1, next_run_at = ?, updated_at = ? WHERE id = ?`,
		nextRunAt, time.Now(), id).Error
}

func (g *GormStore) Delete(ctx context.Context, id uint64) error {
	return g.db.Exec(`DELETE FROM repeater_tasks WHERE id = ?`, id).Error
}
