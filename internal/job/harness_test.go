package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/stepstore"
)

type flakyAtomic struct {
	failUntilAttempt int
}

func (j *flakyAtomic) ComputeApiable(jc *Context) (stepstore.Arguments, error) {
	if jc.Step.Attempts < j.failUntilAttempt {
		return nil, Retryable("transient exchange error", nil)
	}
	return stepstore.Arguments{"ok": true}, nil
}

func TestHarnessRetryWithBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := stepstore.NewMemoryStore(clock)
	registry := NewRegistry()
	registry.Register("flaky", func(args map[string]interface{}) (interface{}, error) {
		return &flakyAtomic{failUntilAttempt: 3}, nil
	})
	h := NewHarness(registry, store).WithClock(clock).WithBackoff(Backoff{Initial: 10 * time.Second, Multiplier: 2, Cap: 120 * time.Second})

	ctx := context.Background()
	s, err := store.Create(ctx, stepstore.NewStep{Class: "flaky", BlockUUID: "b", Index: 1, Queue: "g", MaxAttempts: 5})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		claimed, err := store.Claim(ctx, s.ID)
		require.NoError(t, err)
		err = h.Run(ctx, claimed)
		require.NoError(t, err)
		cur, _ := store.Get(ctx, s.ID)
		if cur.State == stepstore.StateRetrying && cur.NextRunAt != nil {
			now = *cur.NextRunAt
		}
	}

	final, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stepstore.StateCompleted, final.State)
	assert.Equal(t, 3, final.Attempts)
}

type guardedJob struct{ allow bool }

func (j *guardedJob) Guard(jc *Context) (bool, error) { return j.allow, nil }
func (j *guardedJob) ComputeApiable(jc *Context) (stepstore.Arguments, error) {
	return stepstore.Arguments{"ran": true}, nil
}

func TestHarnessGuardSkip(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	registry := NewRegistry()
	registry.Register("guarded", func(args map[string]interface{}) (interface{}, error) {
		return &guardedJob{allow: false}, nil
	})
	h := NewHarness(registry, store)

	ctx := context.Background()
	s, err := store.Create(ctx, stepstore.NewStep{Class: "guarded", BlockUUID: "b", Index: 1, Queue: "g"})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, s.ID)
	require.NoError(t, err)

	require.NoError(t, h.Run(ctx, claimed))

	final, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stepstore.StateSkipped, final.State)
}

type fanOutOrchestrator struct{}

func (j *fanOutOrchestrator) Compute(jc *Context) ([]ChildSubmission, error) {
	return []ChildSubmission{
		{Class: "childA", BlockUUID: "child-block", Index: 1, Queue: "g"},
		{Class: "childB", BlockUUID: "child-block", Index: 1, Queue: "g"},
	}, nil
}

func TestHarnessOrchestratorFansOutChildren(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	registry := NewRegistry()
	registry.Register("orchestrator", func(args map[string]interface{}) (interface{}, error) {
		return &fanOutOrchestrator{}, nil
	})
	h := NewHarness(registry, store)

	ctx := context.Background()
	s, err := store.Create(ctx, stepstore.NewStep{Class: "orchestrator", BlockUUID: "b", Index: 1, Queue: "g"})
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, h.Run(ctx, claimed))

	status, err := store.ChildrenStatus(ctx, "child-block")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
}
