package stepstore

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleStepStore)

// GormStore is the SQL-backed Store: a single seam in front of a
// concrete backend, with raw SQL used for the one operation
// (SELECT ... FOR UPDATE SKIP LOCKED) the ORM's query builder cannot
// express.
type GormStore struct {
	db *gorm.DB
}

// Open connects to driver/dsn (e.g. "mysql", dsn) and auto-migrates the
// steps table.
func Open(driver, dsn string) (*GormStore, error) {
	db, err := gorm.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "stepstore: open")
	}
	if err := db.AutoMigrate(&Step{}).Error; err != nil {
		return nil, errors.Wrap(err, "stepstore: migrate")
	}
	return &GormStore{db: db}, nil
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (g *GormStore) Create(ctx context.Context, in NewStep) (*Step, error) {
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	backoff := in.BackoffSeconds
	if backoff == 0 {
		backoff = 10
	}
	typ := in.Type
	if typ == "" {
		typ = TypeNormal
	}
	blockUUID := in.BlockUUID
	if blockUUID == "" {
		blockUUID = uuid.New()
	}
	initialState := StatePending
	if typ == TypeResolveException {
		initialState = StateHalted
	}
	s := &Step{
		Class:          in.Class,
		Args:           in.Args,
		BlockUUID:      blockUUID,
		ChildBlockUUID: in.ChildBlockUUID,
		WorkflowID:     in.WorkflowID,
		Index:          in.Index,
		Type:           typ,
		State:          initialState,
		Queue:          in.Queue,
		MaxAttempts:    maxAttempts,
		BackoffSeconds: backoff,
		RelatableType:  in.RelatableType,
		RelatableID:    in.RelatableID,
	}
	if err := g.db.Create(s).Error; err != nil {
		return nil, errors.Wrap(err, "stepstore: create")
	}
	return s, nil
}

// SelectReady implements the eligibility rule with a transactional
// raw-SQL SELECT ... FOR UPDATE SKIP LOCKED so concurrent dispatcher
// workers never hand out the same row twice, then filters out rows whose
// block has a non-terminal sibling at a smaller index (the index-barrier
// condition doesn't reduce to a single comparable column, so it's
// applied in Go over the locked candidate set rather than in the SQL
// WHERE clause).
func (g *GormStore) SelectReady(ctx context.Context, group string, limit int) ([]*Step, error) {
	tx := g.db.Begin()
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "stepstore: begin")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var rows []*Step
	scanLimit := limit * 8
	if scanLimit < limit {
		scanLimit = limit
	}
	err := tx.Raw(`
		SELECT * FROM steps
		WHERE queue = ?
		  AND state IN (?, ?)
		  AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY block_uuid, index, id
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`, group, StatePending, StateRetrying, time.Now(), scanLimit).Scan(&rows).Error
	if err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, "stepstore: select ready")
	}

	ready, err := g.filterIndexBarrier(tx, rows, limit)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, errors.Wrap(err, "stepstore: commit")
	}
	return ready, nil
}

func (g *GormStore) filterIndexBarrier(tx *gorm.DB, rows []*Step, limit int) ([]*Step, error) {
	minIdx := make(map[string]int)
	haveMin := make(map[string]bool)
	blocks := make(map[string]struct{})
	for _, s := range rows {
		blocks[s.BlockUUID] = struct{}{}
	}
	for b := range blocks {
		var min struct{ Index int }
		// Halted resolve-exception siblings are deliberately dormant and
		// excluded here the same way SelectReady's own state filter
		// excludes them — otherwise a compensator sitting at its own
		// index would block every later index forever.
		err := tx.Raw(`
			SELECT MIN(index) AS index FROM steps
			WHERE block_uuid = ? AND state NOT IN (?, ?, ?, ?, ?)
		`, b, StateCompleted, StateFailed, StateCancelled, StateSkipped, StateHalted).Scan(&min).Error
		if err != nil {
			return nil, errors.Wrap(err, "stepstore: min index")
		}
		minIdx[b] = min.Index
		haveMin[b] = true

		// Parent-waiting check: any row here whose ChildBlockUUID is set
		// must have all children terminal before it is eligible.
	}

	var out []*Step
	for _, s := range rows {
		if haveMin[s.BlockUUID] && s.Index > minIdx[s.BlockUUID] {
			continue
		}
		if s.ChildBlockUUID != "" {
			status, err := g.childrenStatusTx(tx, s.ChildBlockUUID)
			if err != nil {
				return nil, err
			}
			if !status.AllTerminal() {
				continue
			}
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (g *GormStore) childrenStatusTx(tx *gorm.DB, childBlockUUID string) (ChildrenStatus, error) {
	var st ChildrenStatus
	rows, err := tx.Raw(`SELECT state FROM steps WHERE block_uuid = ?`, childBlockUUID).Rows()
	if err != nil {
		return st, errors.Wrap(err, "stepstore: children status")
	}
	defer rows.Close()
	for rows.Next() {
		var state State
		if err := rows.Scan(&state); err != nil {
			return st, err
		}
		st.Total++
		if state.Terminal() {
			st.Terminal++
			if state == StateFailed {
				st.AnyFailed = true
			}
		} else {
			st.NonTerminal++
		}
	}
	return st, nil
}

// Claim implements the guarded pending/retrying -> running transition.
// The UPDATE's WHERE clause re-checks state so a concurrent claim loses
// the race cleanly instead of double-running.
func (g *GormStore) Claim(ctx context.Context, id uint64) (*Step, error) {
	now := time.Now()
	res := g.db.Exec(`
		UPDATE steps
		SET state = ?, started_at = ?, dispatched_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state IN (?, ?)
	`, StateRunning, now, now, now, id, StatePending, StateRetrying)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "stepstore: claim")
	}
	if res.RowsAffected == 0 {
		return nil, ErrStaleClaim{ID: id}
	}
	return g.Get(ctx, id)
}

func (g *GormStore) MarkComplete(ctx context.Context, id uint64, result Arguments) error {
	now := time.Now()
	return g.db.Exec(`UPDATE steps SET state = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		StateCompleted, now, now, id).Error
}

func (g *GormStore) MarkFailed(ctx context.Context, id uint64, kind, message string) error {
	now := time.Now()
	return g.db.Exec(`UPDATE steps SET state = ?, last_error = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		StateFailed, truncate(kind+": "+message, 2000), now, now, id).Error
}

func (g *GormStore) MarkRetrying(ctx context.Context, id uint64, nextRunAt time.Time, reason string) error {
	now := time.Now()
	return g.db.Exec(`UPDATE steps SET state = ?, next_run_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		StateRetrying, nextRunAt, truncate(reason, 2000), now, id).Error
}

func (g *GormStore) MarkCancelled(ctx context.Context, id uint64) error {
	now := time.Now()
	return g.db.Exec(`UPDATE steps SET state = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		StateCancelled, now, now, id).Error
}

func (g *GormStore) MarkSkipped(ctx context.Context, id uint64) error {
	now := time.Now()
	return g.db.Exec(`UPDATE steps SET state = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		StateSkipped, now, now, id).Error
}

func (g *GormStore) ChildrenStatus(ctx context.Context, childBlockUUID string) (ChildrenStatus, error) {
	return g.childrenStatusTx(g.db, childBlockUUID)
}

func (g *GormStore) SiblingResolveExceptionStep(ctx context.Context, blockUUID string) (*Step, error) {
	var s Step
	err := g.db.Where("block_uuid = ? AND type = ?", blockUUID, TypeResolveException).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "stepstore: sibling resolve-exception")
	}
	return &s, nil
}

func (g *GormStore) ActivateResolveException(ctx context.Context, blockUUID string) error {
	return g.db.Exec(`
		UPDATE steps SET state = ?, updated_at = ?
		WHERE block_uuid = ? AND type = ? AND state = ?
	`, StatePending, time.Now(), blockUUID, TypeResolveException, StateHalted).Error
}

func (g *GormStore) Get(ctx context.Context, id uint64) (*Step, error) {
	var s Step
	err := g.db.Where("id = ?", id).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "stepstore: get")
	}
	return &s, nil
}

func (g *GormStore) CancelBlocks(ctx context.Context, blockUUIDs []string) (int, error) {
	if len(blockUUIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := g.db.Exec(`
		UPDATE steps SET state = ?, finished_at = ?, updated_at = ?
		WHERE block_uuid IN (?) AND state NOT IN (?, ?, ?, ?)
	`, StateCancelled, now, now, blockUUIDs, StateCompleted, StateFailed, StateCancelled, StateSkipped)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "stepstore: cancel blocks")
	}
	logger.Info("cancelled blocks", zap.Int("count", int(res.RowsAffected)))
	return int(res.RowsAffected), nil
}
