package repeater

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-process
// deployments, mirroring stepstore.MemoryStore's fake-clock support.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[uint64]*Row
	nextID uint64
	clock  func() time.Time
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{rows: make(map[uint64]*Row), clock: clock}
}

func (m *MemoryStore) Create(ctx context.Context, in NewRow) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	runAt := in.RunAt
	if runAt.IsZero() {
		runAt = m.clock()
	}
	row := &Row{
		ID:          m.nextID,
		Class:       in.Class,
		Params:      in.Params,
		MaxAttempts: maxAttempts,
		NextRunAt:   runAt,
		CreatedAt:   m.clock(),
		UpdatedAt:   m.clock(),
	}
	m.rows[row.ID] = row
	cp := *row
	return &cp, nil
}

func (m *MemoryStore) Due(ctx context.Context, limit int) ([]*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var due []*Row
	for _, r := range m.rows {
		if !r.NextRunAt.After(now) {
			cp := *r
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRunAt.Equal(due[j].NextRunAt) {
			return due[i].NextRunAt.Before(due[j].NextRunAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Reschedule(ctx context.Context, id uint64, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil
	}
	r.Attempts++
	r.NextRunAt = nextRunAt
	r.UpdatedAt = m.clock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}
