package stepstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexBarrier(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	block := "block-s1"
	a, err := store.Create(ctx, NewStep{Class: "A", BlockUUID: block, Index: 1, Queue: "g"})
	require.NoError(t, err)
	x, err := store.Create(ctx, NewStep{Class: "X", BlockUUID: block, Index: 2, Queue: "g"})
	require.NoError(t, err)
	y, err := store.Create(ctx, NewStep{Class: "Y", BlockUUID: block, Index: 2, Queue: "g"})
	require.NoError(t, err)
	_, err = store.Create(ctx, NewStep{Class: "Z", BlockUUID: block, Index: 3, Queue: "g"})
	require.NoError(t, err)

	ready, err := store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	_, err = store.Claim(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, a.ID, nil))

	ready, err = store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	ids := map[uint64]bool{ready[0].ID: true, ready[1].ID: true}
	assert.True(t, ids[x.ID] && ids[y.ID])

	_, err = store.Claim(ctx, x.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, x.ID, nil))

	// Z still blocked: Y not terminal yet.
	ready, err = store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, y.ID, ready[0].ID)

	_, err = store.Claim(ctx, y.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, y.ID, nil))

	ready, err = store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "Z", ready[0].Class)
}

func TestParentDominance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	childBlock := "children-s2"
	parentBlock := "parent-s2"
	parent, err := store.Create(ctx, NewStep{
		Class: "P", BlockUUID: parentBlock, Index: 1, Queue: "g", ChildBlockUUID: childBlock,
	})
	require.NoError(t, err)

	var children []*Step
	for i := 0; i < 3; i++ {
		c, err := store.Create(ctx, NewStep{Class: "child", BlockUUID: childBlock, Index: 1, Queue: "g"})
		require.NoError(t, err)
		children = append(children, c)
	}

	// Parent not eligible while children are non-terminal.
	ready, err := store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	for _, r := range ready {
		assert.NotEqual(t, parent.ID, r.ID)
	}

	_, err = store.Claim(ctx, children[0].ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, children[0].ID, nil))
	_, err = store.Claim(ctx, children[1].ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, children[1].ID, "permanent", "boom"))
	_, err = store.Claim(ctx, children[2].ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, children[2].ID, nil))

	status, err := store.ChildrenStatus(ctx, childBlock)
	require.NoError(t, err)
	assert.True(t, status.AllTerminal())
	assert.True(t, status.AnyFailed)

	ready, err = store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, parent.ID, ready[0].ID)
}

func TestRetryNonRegression(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()
	store := NewMemoryStore(clock)

	s, err := store.Create(ctx, NewStep{Class: "atomic", BlockUUID: "b", Index: 1, Queue: "g", BackoffSeconds: 10, MaxAttempts: 5})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)
	require.NoError(t, store.MarkRetrying(ctx, s.ID, now.Add(10*time.Second), "transient"))

	now = now.Add(10 * time.Second)
	claimed, err = store.Claim(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	require.NoError(t, store.MarkRetrying(ctx, s.ID, now.Add(20*time.Second), "transient"))

	now = now.Add(20 * time.Second)
	claimed, err = store.Claim(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, claimed.Attempts)
	require.NoError(t, store.MarkComplete(ctx, s.ID, nil))

	final, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 3, final.Attempts)
}

func TestClaimRejectsStaleState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	s, err := store.Create(ctx, NewStep{Class: "a", BlockUUID: "b", Index: 1, Queue: "g"})
	require.NoError(t, err)

	_, err = store.Claim(ctx, s.ID)
	require.NoError(t, err)

	_, err = store.Claim(ctx, s.ID)
	assert.IsType(t, ErrStaleClaim{}, err)
}

func TestResolveExceptionSiblingDormantUntilActivated(t *testing.T) {
	// A resolve-exception sibling is created alongside the main step but
	// stays dormant (never selected) until explicitly activated after the
	// main step fails.
	ctx := context.Background()
	store := NewMemoryStore(nil)

	block := "position-open-block"
	orchestrator, err := store.Create(ctx, NewStep{Class: "OpenPositionOrchestrator", BlockUUID: block, Index: 1, Queue: "g"})
	require.NoError(t, err)
	compensator, err := store.Create(ctx, NewStep{
		Class: "CancelPositionJob", BlockUUID: block, Index: 1, Queue: "g", Type: TypeResolveException,
	})
	require.NoError(t, err)
	assert.Equal(t, StateHalted, compensator.State)

	ready, err := store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, orchestrator.ID, ready[0].ID)

	_, err = store.Claim(ctx, orchestrator.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, orchestrator.ID, "permanent", "child failed"))

	sibling, err := store.SiblingResolveExceptionStep(ctx, block)
	require.NoError(t, err)
	require.NotNil(t, sibling)
	assert.Equal(t, compensator.ID, sibling.ID)

	require.NoError(t, store.ActivateResolveException(ctx, block))

	ready, err = store.SelectReady(ctx, "g", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, compensator.ID, ready[0].ID)
}

func TestCancellationSafety(t *testing.T) {
	// Cancelling a running step must not be overturned by MarkComplete
	// after the fact — the harness is responsible for checking state
	// before writing results, but the store itself must still allow the
	// cancel to stick.
	ctx := context.Background()
	store := NewMemoryStore(nil)
	s, err := store.Create(ctx, NewStep{Class: "a", BlockUUID: "b", Index: 1, Queue: "g"})
	require.NoError(t, err)
	_, err = store.Claim(ctx, s.ID)
	require.NoError(t, err)

	require.NoError(t, store.MarkCancelled(ctx, s.ID))

	final, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)
	assert.True(t, final.State.Terminal())
}
