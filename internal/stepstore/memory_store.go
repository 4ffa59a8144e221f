package stepstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pborman/uuid"
)

// MemoryStore is an in-process Store used by dispatcher/job/resolver
// tests: a plain map behind a mutex, chosen deliberately over
// BadgerStore for the test-double role so tests stay synchronous and
// fast. It enforces the same index-barrier and claim-precondition rules
// as the gorm- and badger-backed stores so property tests exercise real
// invariants, not a stub.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[uint64]*Step
	nextID uint64
	clock  func() time.Time
}

// NewMemoryStore builds an empty store. clock defaults to time.Now if nil,
// and tests may inject a fake clock to control next_run_at comparisons
// deterministically.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{rows: make(map[uint64]*Step), clock: clock}
}

func (m *MemoryStore) now() time.Time { return m.clock() }

func (m *MemoryStore) Create(ctx context.Context, in NewStep) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
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
		ID:             m.nextID,
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
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.rows[s.ID] = s
	cp := *s
	return &cp, nil
}

// minNonTerminalIndex returns the minimum index among non-terminal steps
// in the block, and whether any non-terminal step exists. A halted
// resolve-exception sibling is deliberately dormant and excluded here the
// same way it's excluded from SelectReady's pending/retrying filter —
// otherwise a compensator sitting at its own index would block every
// later index forever.
func (m *MemoryStore) minNonTerminalIndex(blockUUID string) (int, bool) {
	min := 0
	found := false
	for _, s := range m.rows {
		if s.BlockUUID != blockUUID || s.State.Terminal() || s.State == StateHalted {
			continue
		}
		if !found || s.Index < min {
			min = s.Index
			found = true
		}
	}
	return min, found
}

func (m *MemoryStore) SelectReady(ctx context.Context, group string, limit int) ([]*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	var candidates []*Step
	for _, s := range m.rows {
		if s.Queue != group {
			continue
		}
		if s.State != StatePending && s.State != StateRetrying {
			continue
		}
		if s.State == StateRetrying && s.NextRunAt != nil && s.NextRunAt.After(now) {
			continue
		}
		if s.ChildBlockUUID != "" {
			status, _ := m.childrenStatusLocked(s.ChildBlockUUID)
			if !status.AllTerminal() {
				continue
			}
		}
		minIdx, any := m.minNonTerminalIndex(s.BlockUUID)
		if any && s.Index > minIdx {
			continue
		}
		cp := *s
		candidates = append(candidates, &cp)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].BlockUUID != candidates[j].BlockUUID {
			return candidates[i].BlockUUID < candidates[j].BlockUUID
		}
		return candidates[i].ID < candidates[j].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *MemoryStore) Claim(ctx context.Context, id uint64) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	if s.State != StatePending && s.State != StateRetrying {
		return nil, ErrStaleClaim{ID: id}
	}
	now := m.now()
	s.State = StateRunning
	s.Attempts++
	s.StartedAt = &now
	s.DispatchedAt = &now
	s.UpdatedAt = now
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) transition(id uint64, fn func(*Step)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound{ID: id}
	}
	fn(s)
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkComplete(ctx context.Context, id uint64, result Arguments) error {
	return m.transition(id, func(s *Step) {
		now := m.now()
		s.State = StateCompleted
		s.FinishedAt = &now
	})
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id uint64, kind, message string) error {
	return m.transition(id, func(s *Step) {
		now := m.now()
		s.State = StateFailed
		s.LastError = truncate(message, 2000)
		s.FinishedAt = &now
	})
}

func (m *MemoryStore) MarkRetrying(ctx context.Context, id uint64, nextRunAt time.Time, reason string) error {
	return m.transition(id, func(s *Step) {
		s.State = StateRetrying
		s.NextRunAt = &nextRunAt
		s.LastError = truncate(reason, 2000)
	})
}

func (m *MemoryStore) MarkCancelled(ctx context.Context, id uint64) error {
	return m.transition(id, func(s *Step) {
		now := m.now()
		s.State = StateCancelled
		s.FinishedAt = &now
	})
}

func (m *MemoryStore) MarkSkipped(ctx context.Context, id uint64) error {
	return m.transition(id, func(s *Step) {
		now := m.now()
		s.State = StateSkipped
		s.FinishedAt = &now
	})
}

func (m *MemoryStore) childrenStatusLocked(childBlockUUID string) (ChildrenStatus, error) {
	var st ChildrenStatus
	for _, s := range m.rows {
		if s.BlockUUID != childBlockUUID {
			continue
		}
		st.Total++
		if s.State.Terminal() {
			st.Terminal++
			if s.State == StateFailed {
				st.AnyFailed = true
			}
		} else {
			st.NonTerminal++
		}
	}
	return st, nil
}

func (m *MemoryStore) ChildrenStatus(ctx context.Context, childBlockUUID string) (ChildrenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childrenStatusLocked(childBlockUUID)
}

func (m *MemoryStore) SiblingResolveExceptionStep(ctx context.Context, blockUUID string) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.BlockUUID == blockUUID && s.Type == TypeResolveException {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ActivateResolveException(ctx context.Context, blockUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.BlockUUID == blockUUID && s.Type == TypeResolveException && s.State == StateHalted {
			s.State = StatePending
			s.UpdatedAt = m.now()
		}
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CancelBlocks(ctx context.Context, blockUUIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(blockUUIDs))
	for _, b := range blockUUIDs {
		set[b] = struct{}{}
	}
	now := m.now()
	n := 0
	for _, s := range m.rows {
		if _, ok := set[s.BlockUUID]; !ok {
			continue
		}
		if s.State.Terminal() {
			continue
		}
		s.State = StateCancelled
		s.FinishedAt = &now
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
