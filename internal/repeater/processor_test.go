package repeater

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	results     []bool
	i           int
	passed      bool
	failedCalls int
	maxReached  bool
	backoff     int
}

func (f *fakeTask) Run(params map[string]interface{}) (bool, error) {
	r := f.results[f.i]
	if f.i < len(f.results)-1 {
		f.i++
	}
	return r, nil
}
func (f *fakeTask) Passed(params map[string]interface{})               { f.passed = true }
func (f *fakeTask) Failed(params map[string]interface{}, attempt int)  { f.failedCalls++ }
func (f *fakeTask) MaxAttemptsReached(params map[string]interface{})   { f.maxReached = true }
func (f *fakeTask) NextBackoff(attempt int) int                        { return f.backoff }

func TestProcessorPassedDeletesRow(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	store := NewMemoryStore(clock)
	registry := NewRegistry()
	task := &fakeTask{results: []bool{true}, backoff: 5}
	registry.Register("CheckOrderFilled", func() Task { return task })

	ctx := context.Background()
	_, err := store.Create(ctx, NewRow{Class: "CheckOrderFilled", MaxAttempts: 3})
	require.NoError(t, err)

	p := NewProcessor(store, registry).WithClock(clock)
	n, err := p.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, task.passed)

	due, err := store.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessorFailedReschedulesWithBackoff(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	store := NewMemoryStore(clock)
	registry := NewRegistry()
	task := &fakeTask{results: []bool{false}, backoff: 30}
	registry.Register("CheckOrderFilled", func() Task { return task })

	ctx := context.Background()
	row, err := store.Create(ctx, NewRow{Class: "CheckOrderFilled", MaxAttempts: 3})
	require.NoError(t, err)

	p := NewProcessor(store, registry).WithClock(clock)
	n, err := p.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, task.failedCalls)
	assert.False(t, task.maxReached)

	due, err := store.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due) // not due yet, next_run_at is in the future

	store.mu.Lock()
	got := store.rows[row.ID]
	store.mu.Unlock()
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, now.Add(30*time.Second), got.NextRunAt)
}

func TestProcessorMaxAttemptsReachedDeletesRow(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	store := NewMemoryStore(clock)
	registry := NewRegistry()
	task := &fakeTask{results: []bool{false}, backoff: 10}
	registry.Register("CheckOrderFilled", func() Task { return task })

	ctx := context.Background()
	row, err := store.Create(ctx, NewRow{Class: "CheckOrderFilled", MaxAttempts: 1})
	require.NoError(t, err)
	_ = row

	p := NewProcessor(store, registry).WithClock(clock)
	n, err := p.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, task.maxReached)
	assert.False(t, task.passed)

	due, err := store.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
