package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// TestReactionProducesStepSubmission exercises the pure translation
// boundary: an Event decoded off the wire maps, through a registered
// Reaction, to concrete step rows — independent of the Kafka transport
// the Consumer wraps.
func TestReactionProducesStepSubmission(t *testing.T) {
	var registered Reaction
	c := &Consumer{reactions: make(map[TransitionKind]Reaction)}
	registered = func(e Event) ([]stepstore.NewStep, error) {
		return []stepstore.NewStep{
			{
				Class:         "ReconcilePositionJob",
				Queue:         e.Canonical,
				RelatableType: e.RelatableType,
				RelatableID:   e.RelatableID,
			},
		}, nil
	}
	c.OnTransition(TransitionOrderFilled, registered)

	reaction, ok := c.reactions[TransitionOrderFilled]
	require.True(t, ok)

	event := Event{
		Kind:          TransitionOrderFilled,
		AccountID:     42,
		Canonical:     "binance",
		RelatableType: stepstore.RelatablePosition,
		RelatableID:   7,
	}
	submissions, err := reaction(event)
	require.NoError(t, err)
	require.Len(t, submissions, 1)
	assert.Equal(t, "ReconcilePositionJob", submissions[0].Class)
	assert.Equal(t, "binance", submissions[0].Queue)
	assert.Equal(t, uint64(7), submissions[0].RelatableID)
}

func TestOnTransitionOverwritesPriorReaction(t *testing.T) {
	c := &Consumer{reactions: make(map[TransitionKind]Reaction)}
	called := ""
	c.OnTransition(TransitionBalanceUpdated, func(Event) ([]stepstore.NewStep, error) {
		called = "first"
		return nil, nil
	})
	c.OnTransition(TransitionBalanceUpdated, func(Event) ([]stepstore.NewStep, error) {
		called = "second"
		return nil, nil
	})
	_, _ = c.reactions[TransitionBalanceUpdated](Event{})
	assert.Equal(t, "second", called)
}
