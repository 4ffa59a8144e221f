package stepstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pborman/uuid"

	"github.com/cryptoladder/engine/internal/log"
)

var badgerLogger = log.New(log.ModuleStepStore)

// BadgerStore is the embeddable, non-SQL-backend Store: a single badger
// key-value database holding every step row, for the repeater and local
// dev deployments that don't want to stand up a MySQL instance just to
// run the dispatcher. Every operation opens its own transaction and scans
// the full keyspace, the same access pattern MemoryStore uses against its
// map — BadgerStore trades memory residency for on-disk durability
// without changing any of the selection/claim semantics built on top.
type BadgerStore struct {
	db    *badger.DB
	seq   *badger.Sequence
	clock func() time.Time
}

const stepSeqBandwidth = 100

var stepSeqKey = []byte("stepstore:seq")

// OpenBadgerStore opens (or creates) a badger database rooted at dir.
// Callers own the returned store's lifetime and should call Close when
// done; badger holds an exclusive file lock on dir for as long as it's
// open.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence(stepSeqKey, stepSeqBandwidth)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BadgerStore{db: db, seq: seq, clock: time.Now}, nil
}

func (b *BadgerStore) WithClock(c func() time.Time) *BadgerStore { b.clock = c; return b }

func (b *BadgerStore) Close() error {
	if err := b.seq.Release(); err != nil {
		badgerLogger.Warn("releasing step id sequence")
	}
	return b.db.Close()
}

func (b *BadgerStore) now() time.Time { return b.clock() }

func stepKey(id uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, "s:")
	binary.BigEndian.PutUint64(k[2:], id)
	return k
}

func (b *BadgerStore) get(txn *badger.Txn, id uint64) (*Step, error) {
	item, err := txn.Get(stepKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.Value()
	if err != nil {
		return nil, err
	}
	var s Step
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BadgerStore) put(txn *badger.Txn, s *Step) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(stepKey(s.ID), raw)
}

func (b *BadgerStore) scan(fn func(*Step) bool) error {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Item().Value()
		if err != nil {
			return err
		}
		var s Step
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if !fn(&s) {
			break
		}
	}
	return nil
}

func (b *BadgerStore) Create(ctx context.Context, in NewStep) (*Step, error) {
	id, err := b.seq.Next()
	if err != nil {
		return nil, err
	}

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

	now := b.now()
	s := &Step{
		ID:             id,
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

	txn := b.db.NewTransaction(true)
	defer txn.Discard()
	if err := b.put(txn, s); err != nil {
		return nil, err
	}
	if err := txn.Commit(nil); err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

func (b *BadgerStore) minNonTerminalIndex(blockUUID string) (int, bool, error) {
	min := 0
	found := false
	err := b.scan(func(s *Step) bool {
		if s.BlockUUID == blockUUID && !s.State.Terminal() && s.State != StateHalted {
			if !found || s.Index < min {
				min = s.Index
				found = true
			}
		}
		return true
	})
	return min, found, err
}

func (b *BadgerStore) childrenStatus(childBlockUUID string) (ChildrenStatus, error) {
	var st ChildrenStatus
	err := b.scan(func(s *Step) bool {
		if s.BlockUUID != childBlockUUID {
			return true
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
		return true
	})
	return st, err
}

func (b *BadgerStore) SelectReady(ctx context.Context, group string, limit int) ([]*Step, error) {
	now := b.now()

	var candidates []*Step
	err := b.scan(func(s *Step) bool {
		if s.Queue != group {
			return true
		}
		if s.State != StatePending && s.State != StateRetrying {
			return true
		}
		if s.State == StateRetrying && s.NextRunAt != nil && s.NextRunAt.After(now) {
			return true
		}
		if s.ChildBlockUUID != "" {
			status, err := b.childrenStatus(s.ChildBlockUUID)
			if err != nil || !status.AllTerminal() {
				return true
			}
		}
		minIdx, any, err := b.minNonTerminalIndex(s.BlockUUID)
		if err != nil || (any && s.Index > minIdx) {
			return true
		}
		cp := *s
		candidates = append(candidates, &cp)
		return true
	})
	if err != nil {
		return nil, err
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

func (b *BadgerStore) Claim(ctx context.Context, id uint64) (*Step, error) {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()
	s, err := b.get(txn, id)
	if err != nil {
		return nil, err
	}
	if s.State != StatePending && s.State != StateRetrying {
		return nil, ErrStaleClaim{ID: id}
	}
	now := b.now()
	s.State = StateRunning
	s.Attempts++
	s.StartedAt = &now
	s.DispatchedAt = &now
	s.UpdatedAt = now
	if err := b.put(txn, s); err != nil {
		return nil, err
	}
	if err := txn.Commit(nil); err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

func (b *BadgerStore) transition(id uint64, fn func(*Step)) error {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()
	s, err := b.get(txn, id)
	if err != nil {
		return err
	}
	fn(s)
	s.UpdatedAt = b.now()
	if err := b.put(txn, s); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (b *BadgerStore) MarkComplete(ctx context.Context, id uint64, result Arguments) error {
	return b.transition(id, func(s *Step) {
		now := b.now()
		s.State = StateCompleted
		s.FinishedAt = &now
	})
}

func (b *BadgerStore) MarkFailed(ctx context.Context, id uint64, kind, message string) error {
	return b.transition(id, func(s *Step) {
		now := b.now()
		s.State = StateFailed
		s.LastError = truncate(message, 2000)
		s.FinishedAt = &now
	})
}

func (b *BadgerStore) MarkRetrying(ctx context.Context, id uint64, nextRunAt time.Time, reason string) error {
	return b.transition(id, func(s *Step) {
		s.State = StateRetrying
		s.NextRunAt = &nextRunAt
		s.LastError = truncate(reason, 2000)
	})
}

func (b *BadgerStore) MarkCancelled(ctx context.Context, id uint64) error {
	return b.transition(id, func(s *Step) {
		now := b.now()
		s.State = StateCancelled
		s.FinishedAt = &now
	})
}

func (b *BadgerStore) MarkSkipped(ctx context.Context, id uint64) error {
	return b.transition(id, func(s *Step) {
		now := b.now()
		s.State = StateSkipped
		s.FinishedAt = &now
	})
}

func (b *BadgerStore) ChildrenStatus(ctx context.Context, childBlockUUID string) (ChildrenStatus, error) {
	return b.childrenStatus(childBlockUUID)
}

func (b *BadgerStore) SiblingResolveExceptionStep(ctx context.Context, blockUUID string) (*Step, error) {
	var found *Step
	err := b.scan(func(s *Step) bool {
		if s.BlockUUID == blockUUID && s.Type == TypeResolveException {
			cp := *s
			found = &cp
			return false
		}
		return true
	})
	return found, err
}

func (b *BadgerStore) ActivateResolveException(ctx context.Context, blockUUID string) error {
	var target *Step
	err := b.scan(func(s *Step) bool {
		if s.BlockUUID == blockUUID && s.Type == TypeResolveException && s.State == StateHalted {
			cp := *s
			target = &cp
			return false
		}
		return true
	})
	if err != nil || target == nil {
		return err
	}
	return b.transition(target.ID, func(s *Step) {
		s.State = StatePending
	})
}

func (b *BadgerStore) Get(ctx context.Context, id uint64) (*Step, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	return b.get(txn, id)
}

func (b *BadgerStore) CancelBlocks(ctx context.Context, blockUUIDs []string) (int, error) {
	set := make(map[string]struct{}, len(blockUUIDs))
	for _, u := range blockUUIDs {
		set[u] = struct{}{}
	}

	var toCancel []uint64
	err := b.scan(func(s *Step) bool {
		if _, ok := set[s.BlockUUID]; ok && !s.State.Terminal() {
			toCancel = append(toCancel, s.ID)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	now := b.now()
	for _, id := range toCancel {
		if err := b.transition(id, func(s *Step) {
			s.State = StateCancelled
			s.FinishedAt = &now
		}); err != nil {
			return 0, err
		}
	}
	return len(toCancel), nil
}
