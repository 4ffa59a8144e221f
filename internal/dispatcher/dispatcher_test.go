package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/job"
	"github.com/cryptoladder/engine/internal/stepstore"
)

// recordingJob is an Atomic job that records when it ran, for asserting
// the ordering S1 requires.
type recordingJob struct {
	name    string
	started *[]string
	mu      *sync.Mutex
}

func (r recordingJob) ComputeApiable(jc *job.Context) (stepstore.Arguments, error) {
	r.mu.Lock()
	*r.started = append(*r.started, r.name)
	r.mu.Unlock()
	return stepstore.Arguments{}, nil
}

func newOrderingRegistry(started *[]string, mu *sync.Mutex) *job.Registry {
	reg := job.NewRegistry()
	for _, name := range []string{"A", "X", "Y", "Z"} {
		n := name
		reg.Register(n, func(args map[string]interface{}) (interface{}, error) {
			return recordingJob{name: n, started: started, mu: mu}, nil
		})
	}
	return reg
}

// TestRunTickOrderedAndParallel exercises a block with steps at index 1,
// 2, 2, 3: dispatch must happen strictly in index order, with the two
// index-2 siblings free to interleave, and the index-3 step only once
// both index-2 siblings are terminal.
func TestRunTickOrderedAndParallel(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	var started []string
	var mu sync.Mutex
	registry := newOrderingRegistry(&started, &mu)
	harness := job.NewHarness(registry, store)
	d := New(store, harness)

	ctx := context.Background()
	block := "block-s1"

	_, err := store.Create(ctx, stepstore.NewStep{Class: "A", Queue: "g", BlockUUID: block, Index: 1})
	require.NoError(t, err)
	_, err = store.Create(ctx, stepstore.NewStep{Class: "X", Queue: "g", BlockUUID: block, Index: 2})
	require.NoError(t, err)
	_, err = store.Create(ctx, stepstore.NewStep{Class: "Y", Queue: "g", BlockUUID: block, Index: 2})
	require.NoError(t, err)
	_, err = store.Create(ctx, stepstore.NewStep{Class: "Z", Queue: "g", BlockUUID: block, Index: 3})
	require.NoError(t, err)

	// Tick until every step has run. A only-ready tick runs A; X and Y
	// only become candidates once A is terminal; Z only once X and Y are.
	for i := 0; i < 4; i++ {
		_, err := d.RunTick(ctx, "g")
		require.NoError(t, err)
	}

	require.Len(t, started, 4)
	assert.Equal(t, "A", started[0])
	assert.ElementsMatch(t, []string{"X", "Y"}, started[1:3])
	assert.Equal(t, "Z", started[3])
}

// TestRunTickParentCompletionOnChildFailure exercises the failure branch:
// a parent step's fate is resolved directly from its children's terminal
// states, never by re-invoking its body.
func TestRunTickParentCompletionOnChildFailure(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	registry := job.NewRegistry()
	harness := job.NewHarness(registry, store)
	d := New(store, harness)
	ctx := context.Background()

	childBlock := "children-of-p"
	parent, err := store.Create(ctx, stepstore.NewStep{
		Class: "never-called", Queue: "g", BlockUUID: "p-block", Index: 1,
		ChildBlockUUID: childBlock,
	})
	require.NoError(t, err)

	c1, err := store.Create(ctx, stepstore.NewStep{Class: "noop", Queue: "children", BlockUUID: childBlock, Index: 1})
	require.NoError(t, err)
	c2, err := store.Create(ctx, stepstore.NewStep{Class: "noop", Queue: "children", BlockUUID: childBlock, Index: 1})
	require.NoError(t, err)

	require.NoError(t, store.MarkComplete(ctx, c1.ID, nil))
	require.NoError(t, store.MarkFailed(ctx, c2.ID, "permanent", "boom"))

	// Parent should now be a ready candidate for its own queue, resolved
	// from its children's status alone; the class registry has no
	// "never-called" factory, so a harness run would fail it as
	// unregistered_class instead.
	n, err := d.RunTick(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, stepstore.StateFailed, got.State)
}

// TestRunTickParentCompletionOnChildSuccess covers the success branch of
// S2: all children terminal and none failed completes the parent.
func TestRunTickParentCompletionOnChildSuccess(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	registry := job.NewRegistry()
	harness := job.NewHarness(registry, store)
	d := New(store, harness)
	ctx := context.Background()

	childBlock := "children-ok"
	parent, err := store.Create(ctx, stepstore.NewStep{
		Class: "never-called", Queue: "g", BlockUUID: "p-block-2", Index: 1,
		ChildBlockUUID: childBlock,
	})
	require.NoError(t, err)

	c1, err := store.Create(ctx, stepstore.NewStep{Class: "noop", Queue: "children", BlockUUID: childBlock, Index: 1})
	require.NoError(t, err)
	require.NoError(t, store.MarkComplete(ctx, c1.ID, nil))

	n, err := d.RunTick(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, stepstore.StateCompleted, got.State)
}

// TestRunTickRespectsLock ensures a held advisory lock skips the tick
// entirely rather than racing the holder.
func TestRunTickRespectsLock(t *testing.T) {
	store := stepstore.NewMemoryStore(nil)
	registry := job.NewRegistry()
	harness := job.NewHarness(registry, store)
	d := New(store, harness).WithLocker(alwaysLocked{})
	ctx := context.Background()

	_, err := store.Create(ctx, stepstore.NewStep{Class: "noop", Queue: "g", BlockUUID: "b", Index: 1})
	require.NoError(t, err)

	n, err := d.RunTick(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type alwaysLocked struct{}

func (alwaysLocked) TryLock(ctx context.Context, group string, ttl time.Duration) (bool, error) {
	return false, nil
}
func (alwaysLocked) Unlock(ctx context.Context, group string) error { return nil }
